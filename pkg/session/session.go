// Package session holds the state devsync persists in a sync root. Each
// invocation builds one Session and passes it to every component, rather than
// components deriving the paths themselves.
package session

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/devsync/pkg/errors"
)

const (
	markerName = ".devsync.initialized"
	pidName    = ".devsync.pid"
	logName    = ".devsync.log"
)

// State is the coarse state of a sync root, derived from the files in it.
type State int

const (
	// Uninitialized means no initial sync has completed. A destroyed root is
	// also reported as uninitialized.
	Uninitialized State = iota

	// Stopped means the initial sync has completed, but no watcher is
	// recorded.
	Stopped

	// Running means a watcher is recorded.
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Session contains the sync root and the paths of its state files.
type Session struct {
	Root       string
	MarkerPath string
	PIDPath    string
	LogPath    string

	fs afero.Fs
}

// New creates a Session for `root` backed by the OS filesystem.
func New(root string) (Session, error) {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs creates a Session whose state files live on `fs`.
func NewWithFs(fs afero.Fs, root string) (Session, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Session{}, errors.WithContext(err, "resolve sync root")
	}

	return Session{
		Root:       absRoot,
		MarkerPath: filepath.Join(absRoot, markerName),
		PIDPath:    filepath.Join(absRoot, pidName),
		LogPath:    filepath.Join(absRoot, logName),
		fs:         fs,
	}, nil
}

// Fs returns the filesystem the state files are stored on.
func (s Session) Fs() afero.Fs {
	return s.fs
}

// Initialized returns whether the initialized marker exists.
func (s Session) Initialized() bool {
	return s.exists(s.MarkerPath)
}

// MarkInitialized creates the initialized marker.
func (s Session) MarkInitialized() error {
	if err := afero.WriteFile(s.fs, s.MarkerPath, nil, 0644); err != nil {
		return errors.WithContext(err, "write marker")
	}
	return nil
}

// ClearInitialized removes the initialized marker. It's not an error if the
// marker doesn't exist.
func (s Session) ClearInitialized() error {
	return s.remove(s.MarkerPath)
}

// ClearLog removes the sync log. It's not an error if the log doesn't exist.
func (s Session) ClearLog() error {
	return s.remove(s.LogPath)
}

// OpenLog opens the sync log for appending, creating it if necessary.
func (s Session) OpenLog() (afero.File, error) {
	f, err := s.fs.OpenFile(s.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open sync log")
	}
	return f, nil
}

// HasPID returns whether a watcher handle record exists.
func (s Session) HasPID() bool {
	return s.exists(s.PIDPath)
}

// ReadPID returns the process id stored in the watcher handle record.
func (s Session) ReadPID() (int, error) {
	contents, err := afero.ReadFile(s.fs, s.PIDPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.FileNotFound{Path: s.PIDPath}
		}
		return 0, errors.WithContext(err, "read pid")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return 0, errors.WithContext(err, "parse pid")
	}
	return pid, nil
}

// WritePID records the process id of the watcher.
func (s Session) WritePID(pid int) error {
	err := afero.WriteFile(s.fs, s.PIDPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		return errors.WithContext(err, "write pid")
	}
	return nil
}

// RemovePID removes the watcher handle record. It's not an error if the
// record doesn't exist.
func (s Session) RemovePID() error {
	return s.remove(s.PIDPath)
}

// State derives the state of the sync root from its files.
func (s Session) State() State {
	switch {
	case !s.Initialized():
		return Uninitialized
	case s.HasPID():
		return Running
	default:
		return Stopped
	}
}

func (s Session) exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

func (s Session) remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove "+filepath.Base(path))
	}
	return nil
}
