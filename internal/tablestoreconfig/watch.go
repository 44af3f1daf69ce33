package tablestoreconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces a burst of writes (editors often truncate then
// rewrite) into a single reload.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads a config file on write and forwards the parsed overlay to
// OnChange. Construct with NewWatcher, then run it with Run.
type Watcher struct {
	path     string
	basename string
	watcher  *fsnotify.Watcher
	onChange func(*BatcherOverlay)
}

// NewWatcher opens an fsnotify watch on path's parent directory (watching
// the directory rather than the file survives the editor-rewrites-the-file
// pattern, where the inode changes but the directory entry doesn't).
func NewWatcher(path string, onChange func(*BatcherOverlay)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tablestoreconfig: new watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("tablestoreconfig: watch %s: %w", dir, err)
	}
	return &Watcher{path: path, basename: filepath.Base(path), watcher: w, onChange: onChange}, nil
}

// Run blocks, reloading and forwarding the overlay on every debounced write
// to the watched file, until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != w.basename || !event.Has(fsnotify.Write) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				overlay, err := Load(w.path)
				if err != nil {
					return
				}
				w.onChange(overlay)
			})
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error { return w.watcher.Close() }
