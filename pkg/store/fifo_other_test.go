//go:build !unix

package store

import "fmt"

func mkfifo(path string) error {
	return fmt.Errorf("not supported")
}
