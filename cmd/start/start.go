package start

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
)

// New creates a new `start` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the stack and sync files into it.",
		Long: "Start the stack and a background process that syncs file changes\n" +
			"into the sync container. The first start in a directory runs a full\n" +
			"initial sync before anything else.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			util.RunAction(cmd, util.CoordinatorOptions{CheckSyncEngine: true},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					return coord.Start(ctx)
				})
		},
	}
}
