package stop

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
)

// New creates a new `stop` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the file sync and the stack.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			util.RunAction(cmd, util.CoordinatorOptions{},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					return coord.Stop(ctx)
				})
		},
	}
}
