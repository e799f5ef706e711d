package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saturnines/vacsync/pkg/config"
	"github.com/saturnines/vacsync/pkg/core"
)

func newTasksCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the task names accepted by --tasks, in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := config.NewDefaultCatalogLoader().Load(opts.catalogPath)
			if err != nil {
				return err
			}
			for _, t := range core.Tasks(catalog) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", t.Name, t.Kind)
			}
			return nil
		},
	}
}
