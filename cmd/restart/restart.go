package restart

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
)

// New creates a new `restart` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the stack and the file sync.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			util.RunAction(cmd, util.CoordinatorOptions{CheckSyncEngine: true},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					return coord.Restart(ctx)
				})
		},
	}
}
