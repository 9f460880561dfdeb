package logs

import (
	"bytes"
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/devsync/cmd/util"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/fswatch"
)

// Mocked out for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `logs` command.
func New() *cobra.Command {
	var lines int
	var noFollow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the output of the file sync.",
		Long: "Print the end of the sync log, then keep printing new output\n" +
			"until interrupted.",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if err := run(ctx, lines, !noFollow); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50,
		"The number of lines to print from the end of the log")
	cmd.Flags().BoolVar(&noFollow, "no-follow", false,
		"Exit after printing the end of the log")
	return cmd
}

func run(ctx context.Context, lines int, follow bool) error {
	sess, err := util.LoadSession()
	if err != nil {
		return errors.WithContext(err, "load session")
	}
	fs := sess.Fs()

	// Start watching before printing so that no writes are missed.
	var events <-chan struct{}
	if follow {
		var stop func() error
		events, stop, err = fswatch.Watch(sess.LogPath)
		if err != nil {
			return errors.WithContext(err, "watch sync log")
		}
		defer func() {
			if err := stop(); err != nil {
				log.WithError(err).Debug("Failed to stop watching the sync log")
			}
		}()
	}

	offset, err := printTail(fs, sess.LogPath, lines)
	if err != nil {
		return errors.WithContext(err, "print log")
	}

	if follow {
		followLog(ctx, fs, sess.LogPath, offset, events)
	}
	return nil
}

// printTail prints the last `n` lines of the log, and returns the offset of
// the end of the log. A missing log is treated as empty.
func printTail(fs afero.Fs, path string, n int) (int64, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	if out := tail(contents, n); len(out) > 0 {
		if _, err := stdout.Write(out); err != nil {
			return 0, err
		}
	}
	return int64(len(contents)), nil
}

func tail(contents []byte, n int) []byte {
	if n <= 0 {
		return nil
	}

	// Ignore the trailing newline when counting lines.
	end := len(contents)
	if end > 0 && contents[end-1] == '\n' {
		end--
	}

	start := end
	for i := 0; i < n; i++ {
		idx := bytes.LastIndexByte(contents[:start], '\n')
		if idx < 0 {
			return contents
		}
		start = idx
	}
	return contents[start+1:]
}

// followLog prints output appended after `offset` whenever `events` fires,
// until the context is cancelled. If the log shrinks, it was cleared by
// another action, so it's printed from the start.
func followLog(ctx context.Context, fs afero.Fs, path string, offset int64,
	events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
		}

		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).Warn("Failed to read the sync log")
			}
			offset = 0
			continue
		}

		if int64(len(contents)) < offset {
			offset = 0
		}
		if newOutput := contents[offset:]; len(newOutput) > 0 {
			if _, err := stdout.Write(newOutput); err != nil {
				log.WithError(err).Debug("Failed to print log")
			}
		}
		offset = int64(len(contents))
	}
}
