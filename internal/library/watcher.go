package library

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce coalesces bursts of filesystem events into one rescan.
const watchDebounce = 2 * time.Second

// Watcher rescans enabled folders when their contents change. Scans are
// idempotent, so spurious wakeups are harmless.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher

	// Called after a triggered rescan that added or updated items, for
	// thumbnail scheduling
	OnScan func(ScanResult)
}

// NewWatcher starts watching every enabled folder in the store.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{store: store, watcher: fsw}

	folders, err := store.ListFolders()
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, folder := range folders {
		if !folder.Enabled {
			continue
		}
		if err := fsw.Add(folder.Path); err != nil {
			log.Warn().Str("folder", folder.Path).Err(err).Msg("cannot watch folder")
		}
	}
	return w, nil
}

// Add registers one more directory with the running watcher.
func (w *Watcher) Add(path string) error {
	return w.watcher.Add(path)
}

// Remove stops watching a directory.
func (w *Watcher) Remove(path string) error {
	return w.watcher.Remove(path)
}

// Run pumps filesystem events until ctx is cancelled, debouncing into folder
// rescans.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	dirty := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			folder := w.owningFolder(ev.Name)
			if folder == "" {
				continue
			}
			dirty[folder] = true
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("folder watcher error")

		case <-fire:
			fire = nil
			for folder := range dirty {
				res, err := w.store.ScanFolder(folder)
				if err != nil {
					log.Warn().Str("folder", folder).Err(err).Msg("watch-triggered rescan failed")
					continue
				}
				if w.OnScan != nil && (res.Added > 0 || res.Updated > 0) {
					w.OnScan(res)
				}
			}
			dirty = make(map[string]bool)
		}
	}
}

// owningFolder maps an event path back to the registered folder containing it.
func (w *Watcher) owningFolder(path string) string {
	folders, err := w.store.ListFolders()
	if err != nil {
		return ""
	}
	for _, folder := range folders {
		if folder.Enabled && pathWithin(path, folder.Path) {
			return folder.Path
		}
	}
	return ""
}

func pathWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	return len(path) > len(dir) && path[:len(dir)] == dir && path[len(dir)] == '/'
}
