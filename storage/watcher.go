package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"XSlicer/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch reports song directories removed from the store root by external
// housekeeping. Ids that are still published when the event arrives are
// skipped. onRemoved is called with the song id. Watch blocks until ctx
// is done.
func (s *SongStore) Watch(ctx context.Context, onRemoved func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.root); err != nil {
		return fmt.Errorf("watch %s: %w", s.root, err)
	}
	logger.Info("watching song store for removals", logger.String("root", s.root))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(s.root) {
				continue
			}
			id := filepath.Base(event.Name)
			if !ValidID(id) {
				continue
			}
			// 替换不完整目录时也会产生 Rename 事件
			if _, err := s.Lookup(id); err == nil {
				continue
			}
			logger.Info("song removed from store", logger.SongID(id), logger.String("op", event.Op.String()))
			onRemoved(id)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		case <-ctx.Done():
			return nil
		}
	}
}
