package reset

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
)

// New creates a new `reset` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Recreate the stack and run the initial sync again.",
		Long: "Forget that the initial sync happened, recreate the stack, and\n" +
			"run the initial sync again before starting. Asks for confirmation\n" +
			"unless --no-interaction is set.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			quiet := util.Quiet(cmd)
			util.RunAction(cmd, util.CoordinatorOptions{CheckSyncEngine: true},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					return coord.Reset(ctx, quiet)
				})
		},
	}
}
