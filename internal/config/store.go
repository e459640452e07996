package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/pborenstein/apantli/internal/logging"
)

// Store publishes the current profile snapshot. Readers see a consistent
// immutable view; Reload swaps the pointer atomically.
type Store struct {
	current  atomic.Pointer[Snapshot]
	path     string
	defaults Defaults
}

// NewStore loads the initial snapshot from path.
func NewStore(path string, defaults Defaults) (*Store, error) {
	snap, err := LoadOptional(path, defaults)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, defaults: defaults}
	s.current.Store(snap)
	return s, nil
}

// Snapshot returns the currently published snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the config file and swaps the snapshot. A parse failure
// leaves the previous snapshot in place.
func (s *Store) Reload() error {
	snap, err := LoadOptional(s.path, s.defaults)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	log.Infof("config: loaded %d model profile(s) from %s", snap.Len(), s.path)
	return nil
}

// Watch reloads the snapshot whenever the config file changes. Editors
// replace files with rename+create, so the parent directory is watched and
// events are debounced before reloading. Blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var pending <-chan time.Time

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				log.WithError(err).Warn("config reload failed, keeping previous profiles")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
