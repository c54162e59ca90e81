package feedlist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"feedbell/internal/model"
)

// Watcher serves the current feed list and reloads it between cycles when
// the urls file changes on disk. A failed reload keeps the last good list.
type Watcher struct {
	path string
	log  *slog.Logger

	mu    sync.Mutex
	feeds []model.Feed
	dirty bool
}

// NewWatcher loads the urls file once; the initial load must succeed.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	feeds, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, log: log, feeds: feeds}, nil
}

// Watch marks the list dirty on file changes until ctx is cancelled.
// Editors replace files with rename+create or delete+recreate, so those
// count as writes and the watch follows the replacement file.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.log.Debug("urls file changed", "event", event.Op.String())
			w.mu.Lock()
			w.dirty = true
			w.mu.Unlock()
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				// The kernel watch died with the old inode; re-arm on the
				// replacement file, which may take a moment to appear.
				w.rearm(ctx, fw)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("urls file watch", "error", err)
		}
	}
}

func (w *Watcher) rearm(ctx context.Context, fw *fsnotify.Watcher) {
	_ = fw.Remove(w.path)
	var err error
	for i := 0; i < 20; i++ {
		if err = fw.Add(w.path); err == nil {
			// Anything written while unwatched produced no event.
			w.mu.Lock()
			w.dirty = true
			w.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	w.log.Warn("re-watch urls file", "error", err)
}

// Feeds returns the current feed list, reloading it first if the file
// changed since the previous call.
func (w *Watcher) Feeds() []model.Feed {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirty {
		w.dirty = false
		feeds, err := ParseFile(w.path)
		if err != nil {
			w.log.Error("reload urls file, keeping previous list", "error", err)
		} else {
			w.log.Info("reloaded urls file", "feeds", len(feeds))
			w.feeds = feeds
		}
	}

	out := make([]model.Feed, len(w.feeds))
	copy(out, w.feeds)
	return out
}
