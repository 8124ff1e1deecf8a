package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mgrossu/home-surveillance-system/events"
)

// Watch invalidates the listing cache when files in the recordings
// directory change, until ctx is done. Adds, removes and renames are also
// published as RecordingsChanged. It creates the directory if needed.
func (r *Recorder) Watch(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create recordings dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	r.logger.Info("Watching recordings dir", zap.String("dir", r.dir))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".mp4" {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					// Writes change sizes only.
					if ev.Has(fsnotify.Write) {
						r.invalidate()
					}
					continue
				}
				r.invalidate()
				r.logger.Debug("Recordings dir changed",
					zap.String("file", ev.Name),
					zap.String("op", ev.Op.String()))
				r.bus.Publish(events.RecordingsChanged{
					Name:      filepath.Base(ev.Name),
					Op:        ev.Op.String(),
					Timestamp: events.Now(),
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Recordings watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
