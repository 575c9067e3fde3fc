// Package confwatcher watches the configuration file on disk for edits
// made outside the daemon (a technician editing onvifd.toml directly) and
// signals the core to reload it.
package confwatcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	minInterval    = 1 * time.Second
	additionalWait = 10 * time.Millisecond
)

// ConfWatcher watches a single configuration file's parent directory and
// signals on every write/create/rename affecting that file.
type ConfWatcher struct {
	inner       *fsnotify.Watcher
	watchedPath string

	terminate chan struct{}
	signal    chan struct{}
	done      chan struct{}
}

// New watches confPath for changes. confPath must already exist.
func New(confPath string) (*ConfWatcher, error) {
	if _, err := os.Stat(confPath); err != nil {
		return nil, err
	}

	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absolutePath, _ := filepath.Abs(confPath)
	parentPath := filepath.Dir(absolutePath)

	if err := inner.Add(parentPath); err != nil {
		inner.Close() //nolint:errcheck
		return nil, err
	}

	w := &ConfWatcher{
		inner:       inner,
		watchedPath: absolutePath,
		terminate:   make(chan struct{}),
		signal:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Close stops the watcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

// Watch returns a channel that receives a value each time the watched file
// changes, coalesced so a burst of writes produces a single signal.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.signal
}

func (w *ConfWatcher) run() {
	defer close(w.done)

	var lastSignalled time.Time

outer:
	for {
		select {
		case event := <-w.inner.Events:
			if time.Since(lastSignalled) < minInterval {
				continue
			}

			eventPath, _ := filepath.Abs(event.Name)
			if eventPath != w.watchedPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// let the writer finish before reading the file back.
			time.Sleep(additionalWait)
			lastSignalled = time.Now()

			select {
			case w.signal <- struct{}{}:
			case <-w.terminate:
				break outer
			}

		case <-w.inner.Errors:
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.signal)
	w.inner.Close() //nolint:errcheck
}
