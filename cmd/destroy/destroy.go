package destroy

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
)

// New creates a new `destroy` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Remove the stack, its volumes, and the sync state.",
		Long: "Stop syncing, then remove the stack's containers, networks, and\n" +
			"volumes. The next start runs the initial sync again. Asks for\n" +
			"confirmation unless --no-interaction is set.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			quiet := util.Quiet(cmd)
			util.RunAction(cmd, util.CoordinatorOptions{},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					return coord.Destroy(ctx, quiet)
				})
		},
	}
}
