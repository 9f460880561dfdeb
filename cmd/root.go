package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/destroy"
	"github.com/sidkik/devsync/cmd/logs"
	"github.com/sidkik/devsync/cmd/reset"
	"github.com/sidkik/devsync/cmd/restart"
	"github.com/sidkik/devsync/cmd/start"
	"github.com/sidkik/devsync/cmd/status"
	"github.com/sidkik/devsync/cmd/stop"
	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "DEVSYNC_LOG_VERBOSE"

const shortUsage = "Usage: devsync [-q] start|restart|stop|reset|destroy|logs|status\n" +
	"Run 'devsync --help' for details."

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		util.HandleFatalError(err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devsync",
		Short: "Run a container stack with files synced from the working directory.",
		Long: "devsync runs the compose stack in the working directory, and keeps\n" +
			"a sync container up to date with local file changes.\n\n" +
			"Run one action at a time in a directory. Concurrent actions on the\n" +
			"same directory aren't supported.",
		Version:      version.Version,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,

		// The call to rootCmd.Execute returns the error, and it's printed by
		// HandleFatalError, so we silence errors here to avoid double printing.
		SilenceErrors: true,

		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},

		// Subcommands are dispatched by cobra, so we only get here if there's
		// no action, or the action is unknown.
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.NewFriendlyError(shortUsage)
			}
			return errors.NewFriendlyError("Invalid action: %s\n%s", args[0], shortUsage)
		},
	}
	rootCmd.SetVersionTemplate("devsync {{.Version}}\n")
	rootCmd.PersistentFlags().BoolP(util.NoInteractionFlag, "q", false,
		"Don't ask for confirmation before destructive actions")

	rootCmd.AddCommand(
		start.New(),
		restart.New(),
		stop.New(),
		reset.New(),
		destroy.New(),
		logs.New(),
		status.New(),
	)
	return rootCmd
}
