// Package watcher manages the background sync process that keeps the sync
// root and the container in sync after the initial sync.
package watcher

import (
	"os/exec"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/devsync/pkg/errors"
	"github.com/sidkik/devsync/pkg/session"
	"github.com/sidkik/devsync/pkg/syncengine"
)

// CommandBuilder builds the command for the watch-mode sync.
type CommandBuilder interface {
	WatchCommand(root string, endpoint syncengine.Endpoint, ignores []string) *exec.Cmd
}

// Handle owns the lifecycle of the single watcher process of a sync root.
// The process id is persisted in the session so that later invocations can
// stop it.
type Handle struct {
	session session.Session
	builder CommandBuilder
}

// Mocked out for unit testing.
var signalProcess = syscall.Kill

// New creates a Handle.
func New(sess session.Session, builder CommandBuilder) Handle {
	return Handle{session: sess, builder: builder}
}

// Start spawns the watcher in the background with its output appended to
// the sync log, and records its pid. The watcher keeps running after this
// process exits. If the pid can't be recorded, the watcher is killed, and
// the returned pid is that of the dead process.
func (h Handle) Start(endpoint syncengine.Endpoint, ignores []string) (int, error) {
	logFile, err := h.session.OpenLog()
	if err != nil {
		return 0, errors.WithContext(err, "open log")
	}
	// The child gets its own copy of the descriptor.
	defer logFile.Close()

	cmd := h.builder.WatchCommand(h.session.Root, endpoint, ignores)
	cmd.Dir = h.session.Root
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// Put the watcher in its own process group so that it doesn't receive
	// signals sent to our terminal's foreground group, such as Ctrl-C.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.WithContext(err, "start watcher")
	}

	pid := cmd.Process.Pid
	if err := h.session.WritePID(pid); err != nil {
		// An unrecorded watcher could never be stopped, so don't leave it
		// running.
		if killErr := cmd.Process.Kill(); killErr != nil {
			log.WithError(killErr).WithField("pid", pid).Warn(
				"Failed to kill unrecorded watcher")
		}
		_ = cmd.Wait()
		return pid, errors.WithContext(err, "record watcher")
	}

	log.WithField("pid", pid).Debug("Started watcher")
	return pid, nil
}

// Stop terminates the recorded watcher. It returns false if there was no
// watcher to stop, which isn't an error.
//
// The record is removed before the signal is sent, and errors from sending
// the signal are ignored since the process may have already exited.
func (h Handle) Stop() (bool, error) {
	if !h.Exists() {
		return false, nil
	}

	pid, readErr := h.session.ReadPID()
	if err := h.session.RemovePID(); err != nil {
		return false, errors.WithContext(err, "remove watcher record")
	}

	if readErr != nil || pid <= 0 {
		log.WithError(readErr).WithField("pid", pid).Warn(
			"Ignoring malformed watcher record")
		return true, nil
	}

	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		log.WithError(err).WithField("pid", pid).Debug(
			"Failed to signal watcher. It probably already exited")
	}
	return true, nil
}

// Exists returns whether a watcher is recorded. The process itself isn't
// checked, so the record may be stale.
func (h Handle) Exists() bool {
	return h.session.HasPID()
}
