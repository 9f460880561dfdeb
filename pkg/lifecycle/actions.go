package lifecycle

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/devsync/pkg/compose"
	"github.com/sidkik/devsync/pkg/errors"
)

const (
	resetPrompt = "This deletes the sync state, recreates the stack, and runs " +
		"the initial sync again. Continue?"
	destroyPrompt = "This stops syncing and removes the stack's containers, " +
		"networks, and volumes. Continue?"
)

// manualRecoveryTemplate is shown when `stop` can't find a watcher record.
const manualRecoveryTemplate = "Nothing to stop: no sync watcher is recorded in %s.\n" +
	"If a sync process is still running, find it with `pgrep -fl %s` and " +
	"stop it with `kill <pid>`.\n" +
	"The stack can be stopped with `docker-compose stop`."

// InitialSync brings up a fresh stack and runs a single foreground sync.
// It's required once before the watcher may run. A returned error means the
// command must abort.
func (c *Coordinator) InitialSync(ctx context.Context) error {
	c.stopWatcher()

	c.progress("Recreating the stack for the initial sync..")
	if res := c.Stack.Down(ctx, compose.DownOptions{}); !res.Succeeded {
		log.WithField("output", res.Output).Warn("Failed to tear down the existing stack")
	}

	if res := c.Stack.Up(ctx, compose.UpOptions{}); !res.Succeeded {
		c.failure("The stack failed to start:\n" + res.Output)
		return newFatalError(ErrStackStartFailed,
			"The container stack failed to start. Is another stack using the "+
				"same ports?\n%s", res.Output)
	}

	endpoint, ok := c.Resolver.Endpoint(c.Resolver.Resolve(ctx))
	if !ok {
		c.failure("The sync container isn't reachable.")
		return newFatalError(ErrSyncUnreachable, "The stack started, but the sync "+
			"container's port isn't published. Check that the sync service is "+
			"running with `docker-compose ps`.")
	}

	logFile, err := c.Session.OpenLog()
	if err != nil {
		return errors.WithContext(err, "open sync log")
	}
	defer logFile.Close()

	c.progress(fmt.Sprintf("Running the initial sync against %s. This may take a while..",
		endpoint))
	start := c.Clock.Now()
	res := c.Syncer.Once(ctx, c.Session.Root, endpoint, c.InitialIgnores, logFile)
	elapsed := c.Clock.Now().Sub(start).Round(time.Second)

	if !res.Succeeded {
		c.failure(fmt.Sprintf("Initial sync failed after %s: %s", elapsed, res.Output))
		return newFatalError(ErrInitialSyncFailed, "The initial sync failed (%s). "+
			"See %s for details.", res.Output, c.Session.LogPath)
	}

	if err := c.Session.MarkInitialized(); err != nil {
		return errors.WithContext(err, "mark initialized")
	}
	c.success(fmt.Sprintf("Initial sync completed in %s.", elapsed))
	return nil
}

// Start makes sure the initial sync has happened, then recreates the stack
// and starts the watcher.
func (c *Coordinator) Start(ctx context.Context) error {
	c.clearLog()
	return c.start(ctx)
}

func (c *Coordinator) start(ctx context.Context) error {
	if !c.Session.Initialized() {
		if err := c.InitialSync(ctx); err != nil {
			return err
		}
	}

	c.stopWatcher()

	c.progress("Starting the stack..")
	if res := c.Stack.Stop(ctx); !res.Succeeded {
		log.WithField("output", res.Output).Warn("Failed to stop the stack")
	}

	if res := c.Stack.Up(ctx, compose.UpOptions{ForceRecreate: true}); !res.Succeeded {
		c.failure("Failed to start the stack:\n" + res.Output)
		return nil
	}

	c.startWatcher(ctx, "Stack started.")
	return nil
}

// Restart restarts the existing stack and the watcher.
func (c *Coordinator) Restart(ctx context.Context) error {
	c.stopWatcher()
	c.clearLog()

	c.progress("Restarting the stack..")
	if res := c.Stack.Restart(ctx); !res.Succeeded {
		c.failure("Failed to restart the stack:\n" + res.Output)
		return nil
	}

	c.startWatcher(ctx, "Stack restarted.")
	return nil
}

func (c *Coordinator) startWatcher(ctx context.Context, prefix string) {
	port := c.Resolver.Resolve(ctx)
	endpoint, ok := c.Resolver.Endpoint(port)
	if !ok {
		c.failure(prefix + " But the sync container isn't reachable, so files " +
			"aren't being synced.")
		return
	}

	pid, err := c.Watcher.Start(endpoint, c.WatchIgnores)
	if err != nil {
		log.WithError(err).Error("Failed to start the sync watcher")
		c.failure(prefix + " But the sync watcher failed to start: " +
			errors.GetPrintableMessage(err))
		return
	}

	log.WithField("pid", pid).Debug("Sync watcher running")
	c.success(fmt.Sprintf("%s Syncing through port %s.", prefix, port))
}

// Stop stops the watcher and the stack. If no watcher is recorded, nothing
// is touched, and the operator is told how to clean up by hand.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.Watcher.Exists() {
		c.failure(fmt.Sprintf(manualRecoveryTemplate, c.Session.PIDPath, "unison"))
		return nil
	}

	c.stopWatcher()

	c.progress("Stopping the stack..")
	res := c.Stack.Stop(ctx)

	if err := c.Session.RemovePID(); err != nil {
		log.WithError(err).Warn("Failed to remove the watcher record")
	}
	c.clearLog()

	if !res.Succeeded {
		c.failure("Sync stopped, but the stack failed to stop:\n" + res.Output)
		return nil
	}
	c.success("Sync and stack stopped.")
	return nil
}

// Reset deletes the sync state and runs the initial sync again before
// starting. Unless `quiet` is set, the operator must confirm first.
func (c *Coordinator) Reset(ctx context.Context, quiet bool) error {
	if !quiet && !c.Confirmer.Confirm(resetPrompt) {
		c.progress("Aborted.")
		return nil
	}

	c.clearLog()
	if err := c.Session.ClearInitialized(); err != nil {
		return errors.WithContext(err, "clear initialized marker")
	}

	if err := c.InitialSync(ctx); err != nil {
		return err
	}
	return c.start(ctx)
}

// Destroy stops the watcher, removes the stack entirely, and deletes the
// initialized marker. Unless `quiet` is set, the operator must confirm
// first.
func (c *Coordinator) Destroy(ctx context.Context, quiet bool) error {
	if !quiet && !c.Confirmer.Confirm(destroyPrompt) {
		c.progress("Aborted.")
		return nil
	}

	c.stopWatcher()

	c.progress("Removing the stack..")
	res := c.Stack.Down(ctx, compose.DownOptions{Volumes: true})

	markerErr := c.Session.ClearInitialized()
	if markerErr != nil {
		log.WithError(markerErr).Error("Failed to remove the initialized marker")
	}

	switch {
	case !res.Succeeded:
		c.failure("Failed to remove the stack:\n" + res.Output)
	case markerErr != nil:
		c.failure("Stack removed, but the sync state couldn't be deleted: " +
			markerErr.Error())
	default:
		c.success("Stack and sync state removed.")
	}
	return nil
}
