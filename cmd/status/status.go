package status

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/lifecycle"
	"github.com/sidkik/devsync/pkg/session"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `status` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print whether the file sync is running.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			util.RunAction(cmd, util.CoordinatorOptions{},
				func(ctx context.Context, coord *lifecycle.Coordinator) error {
					printStatus(coord.Session, coord.Status(ctx))
					return nil
				})
		},
	}
}

func printStatus(sess session.Session, status lifecycle.Status) {
	fmt.Fprintf(stdout, "Sync root: %s\n", sess.Root)

	state := status.State.String()
	switch status.State {
	case session.Running:
		state = goterm.Color(state, goterm.GREEN)
	case session.Uninitialized:
		state = goterm.Color(state, goterm.YELLOW)
	}
	fmt.Fprintf(stdout, "State:     %s\n", state)

	if status.State != session.Running {
		return
	}

	if pid, err := sess.ReadPID(); err == nil {
		fmt.Fprintf(stdout, "Watcher:   pid %d\n", pid)
	}

	port := status.Port
	if port == "" {
		port = goterm.Color("unreachable", goterm.RED)
	}
	fmt.Fprintf(stdout, "Sync port: %s\n", port)
}
