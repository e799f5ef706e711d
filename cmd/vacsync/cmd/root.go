// Package cmd is the vacsync command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/errors"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// ExitCodeUnrecognizedShape is returned when the API answered with a page
// shape vacsync does not understand.
const ExitCodeUnrecognizedShape = 99

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type options struct {
	configFile  string
	catalogPath string
	tasks       string
	parameter   string
	sinceLast   bool
	logLevel    string
	logFormat   string
}

// NewRootCommand builds the vacsync command tree. Every call returns fresh
// flag state.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "vacsync",
		Short: "Export and import PIM catalog data as JSON Lines .vac files",
		Long: `vacsync exports PIM resources to one JSON Lines file per resource and imports
those files back. Tasks run in a fixed order whatever order they are given in;
run "vacsync tasks" for the list.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasks(cmd, v, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file path (yaml, json or toml)")
	flags.StringVar(&opts.catalogPath, "catalog", "", "resource catalog file (default: built in)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format (json, console)")

	root.Flags().StringVarP(&opts.tasks, "tasks", "t", "", "comma separated task names, e.g. exportProducts,importCategories")
	root.Flags().StringVarP(&opts.parameter, "parameter", "p", "", "query string for exports that accept one, or the file of a media upload")
	root.Flags().BoolVar(&opts.sinceLast, "since-last", false, "export incremental resources updated since the last successful run (needs --journal); their files then hold only the changed records")
	root.Flags().String("export-path", "", "directory of the .vac files")
	root.Flags().String("journal", "", "sqlite file recording task runs")
	root.Flags().Int("patch-limit", 0, "records per page and per batch")

	// flags override environment and config file
	_ = v.BindPFlag("export_path", root.Flags().Lookup("export-path"))
	_ = v.BindPFlag("journal_path", root.Flags().Lookup("journal"))
	_ = v.BindPFlag("patch_limit", root.Flags().Lookup("patch-limit"))
	_ = v.BindPFlag("catalog_path", flags.Lookup("catalog"))

	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	root.AddCommand(newTasksCommand(opts))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	return execute(NewRootCommand(), args)
}

func execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if errors.Is(err, errors.ErrUnrecognizedShape) {
		return ExitCodeUnrecognizedShape
	}
	return 1
}
