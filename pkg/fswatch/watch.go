// Package fswatch notifies callers when files change.
package fswatch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/devsync/pkg/errors"
)

var fs = afero.NewOsFs()

// Watch sends an event on the returned channel whenever `path` changes,
// including when it's created or removed. Changes to other files in its
// directory are ignored, and bursts of changes are combined into a single
// event. The returned function stops the watch.
func Watch(path string) (<-chan struct{}, func() error, error) {
	pathsToWatch, err := getPathsToWatch(path)
	if err != nil {
		return nil, nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	for _, p := range pathsToWatch {
		if err := watcher.Add(p); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", p))
		}
	}

	go logErrors(watcher.Errors)
	return combineUpdates(watcher.Events, path), watcher.Close, nil
}

func combineUpdates(updates <-chan fsnotify.Event, path string) <-chan struct{} {
	path = filepath.Clean(path)
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if filepath.Clean(event.Name) != path {
				continue
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func logErrors(errs <-chan error) {
	for err := range errs {
		log.WithError(err).Debug("File watcher error")
	}
}

// getPathsToWatch returns the parent directory of `path`, and `path` itself
// if it exists. Watching the parent lets us notice when the file is removed
// and created again, which happens whenever the log is cleared.
func getPathsToWatch(path string) ([]string, error) {
	dir := filepath.Dir(path)
	if _, err := fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}

	paths := []string{dir}
	fi, err := fs.Stat(path)
	switch {
	case err == nil && fi.Mode().IsRegular():
		paths = append(paths, path)
	case err != nil && !os.IsNotExist(err):
		return nil, errors.WithContext(err, "stat")
	}
	return paths, nil
}
