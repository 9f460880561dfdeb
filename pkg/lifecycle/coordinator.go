// Package lifecycle coordinates the container stack and the background sync
// watcher of a sync root. The two are separate processes that can fail
// independently, so every action tears down and brings up both in a fixed
// order, and reports partial failures rather than aborting halfway.
//
// Only one action may run against a sync root at a time. Nothing enforces
// this.
package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/buger/goterm"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/devsync/pkg/command"
	"github.com/sidkik/devsync/pkg/compose"
	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/notify"
	"github.com/sidkik/devsync/pkg/session"
	"github.com/sidkik/devsync/pkg/syncengine"
)

const notificationTitle = "devsync"

// Stack controls the container stack.
type Stack interface {
	Up(ctx context.Context, opts compose.UpOptions) command.Result
	Down(ctx context.Context, opts compose.DownOptions) command.Result
	Stop(ctx context.Context) command.Result
	Restart(ctx context.Context) command.Result
}

// PortResolver finds the published port of the sync container.
type PortResolver interface {
	Resolve(ctx context.Context) string
	Endpoint(port string) (syncengine.Endpoint, bool)
}

// Watcher manages the background sync process.
type Watcher interface {
	Start(endpoint syncengine.Endpoint, ignores []string) (int, error)
	Stop() (bool, error)
	Exists() bool
}

// Syncer runs a single foreground sync.
type Syncer interface {
	Once(ctx context.Context, root string, endpoint syncengine.Endpoint,
		ignores []string, out io.Writer) command.Result
}

// Confirmer asks the operator a yes or no question.
type Confirmer interface {
	Confirm(prompt string) bool
}

// Coordinator implements the lifecycle actions for a single sync root.
type Coordinator struct {
	Session   session.Session
	Stack     Stack
	Resolver  PortResolver
	Watcher   Watcher
	Syncer    Syncer
	Notifier  notify.Notifier
	Confirmer Confirmer
	Clock     clockwork.Clock

	// WatchIgnores are the ignore rules of the background watcher.
	WatchIgnores []string

	// InitialIgnores are the ignore rules of the initial sync.
	InitialIgnores []string

	// Out receives the status lines shown to the operator.
	Out io.Writer
}

var (
	// ErrStackStartFailed is returned when the stack can't be brought up
	// for the initial sync.
	ErrStackStartFailed = errors.New("stack failed to start")

	// ErrSyncUnreachable is returned when the stack is up for the initial
	// sync, but the sync container's port can't be resolved.
	ErrSyncUnreachable = errors.New("sync container unreachable")

	// ErrInitialSyncFailed is returned when the initial sync exits
	// unsuccessfully.
	ErrInitialSyncFailed = errors.New("initial sync failed")
)

// fatalError aborts the whole command. It's shown to the user with its
// message, and matches its cause with errors.Is.
type fatalError struct {
	cause error
	msg   string
}

func newFatalError(cause error, format string, args ...interface{}) error {
	return fatalError{cause, fmt.Sprintf(format, args...)}
}

func (err fatalError) Error() string {
	return fmt.Sprintf("%s: %s", err.cause, err.msg)
}

func (err fatalError) FriendlyMessage() string {
	return err.msg
}

func (err fatalError) Unwrap() error {
	return err.cause
}

// Status describes the current state of the sync root.
type Status struct {
	State session.State

	// Port is the published sync port. It's only looked up when the root is
	// running, and is empty if the sync container is unreachable.
	Port string
}

// Status returns the state of the sync root.
func (c *Coordinator) Status(ctx context.Context) Status {
	status := Status{State: c.Session.State()}
	if status.State == session.Running {
		status.Port = c.Resolver.Resolve(ctx)
	}
	return status
}

func (c *Coordinator) success(msg string) {
	fmt.Fprintf(c.Out, "%s %s\n", goterm.Color("✔", goterm.GREEN), msg)
	c.Notifier.Notify(notificationTitle, msg)
}

func (c *Coordinator) failure(msg string) {
	fmt.Fprintf(c.Out, "%s %s\n", goterm.Color("✘", goterm.RED), msg)
	c.Notifier.Notify(notificationTitle, msg)
}

func (c *Coordinator) progress(msg string) {
	fmt.Fprintln(c.Out, msg)
}

// stopWatcher stops any recorded watcher. Failures are logged, since a
// leftover watcher doesn't prevent the action from continuing.
func (c *Coordinator) stopWatcher() {
	stopped, err := c.Watcher.Stop()
	switch {
	case err != nil:
		log.WithError(err).Warn("Failed to stop the sync watcher")
	case stopped:
		log.Debug("Stopped the sync watcher")
	default:
		log.Debug("No sync watcher to stop")
	}
}

func (c *Coordinator) clearLog() {
	if err := c.Session.ClearLog(); err != nil {
		log.WithError(err).Warn("Failed to clear the sync log")
	}
}
