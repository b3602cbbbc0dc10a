package credentials

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds an atomically-swappable credentials snapshot, reloaded
// whenever the backing file changes. Readers call Snapshot and hold the
// returned Map for the duration of one authentication attempt (§5,
// "shared resources" — the credentials map is the one thing shared
// read-mostly across reactor threads).
type Watcher struct {
	path    string
	current atomic.Value // holds Map
	watcher *fsnotify.Watcher
	onError func(error)
}

// NewWatcher loads path once synchronously, then starts watching it for
// writes/renames (the usual atomic-rename config update pattern) and
// reloads on change. onError, if non-nil, is called with any reload
// failure; the previous snapshot is kept on a failed reload.
func NewWatcher(path string, onError func(error)) (*Watcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credentials: creating watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("credentials: watching %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fsw, onError: onError}
	w.current.Store(initial)

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
			if ev.Op&fsnotify.Rename != 0 {
				// Editors that replace-by-rename drop the watch on the
				// old inode; re-add so future saves are still seen.
				_ = w.watcher.Add(w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(fmt.Errorf("credentials: watch error: %w", err))
			}
		}
	}
}

func (w *Watcher) reload() {
	next, err := LoadFile(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(fmt.Errorf("credentials: reload failed, keeping previous snapshot: %w", err))
		}
		return
	}
	// The old Map is left in place for anyone holding a reference to it
	// (a Load on the client side of an in-flight authentication, say)
	// until they next call Snapshot; it is never mutated, only replaced.
	w.current.Store(next)
}

// Snapshot returns the current credentials mapping. The caller should
// hold the returned value for the duration of one authentication
// attempt rather than call Snapshot per-key, so a reload mid-attempt
// can't combine a name lookup from one generation with a key from the
// next.
func (w *Watcher) Snapshot() Map {
	return w.current.Load().(Map)
}

// Close stops the filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
