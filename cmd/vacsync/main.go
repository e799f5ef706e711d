package main

import (
	"os"

	"github.com/saturnines/vacsync/cmd/vacsync/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:]))
}
