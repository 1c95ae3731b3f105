package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const seedDebounce = 250 * time.Millisecond

// WatchSeed re-applies the seed file whenever it changes on disk, until ctx
// is done. Watcher setup runs synchronously so a bad path surfaces to the
// caller; the watch loop itself runs in the background, so this returns
// immediately and the caller's startup sequence keeps going. The parent
// directory is watched rather than the file itself because most editors
// save by replacing the file, which would drop a direct watch.
func (s *Store) WatchSeed(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if s.logger != nil {
		s.logger.WithField("path", path).Info("Watching plan seed for changes")
	}

	go s.watchSeedLoop(ctx, watcher, path)
	return nil
}

func (s *Store) watchSeedLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	target := filepath.Clean(path)

	// Editors fire several events per save; hold off until they settle.
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(seedDebounce)
			timerCh = timer.C

		case <-timerCh:
			timer = nil
			timerCh = nil
			if err := s.SeedFromFile(ctx, path); err != nil {
				if s.logger != nil {
					s.logger.WithError(err).WithField("path", path).Error("Plan seed reload failed")
				}
				continue
			}
			if s.logger != nil {
				s.logger.WithField("path", path).Info("Plan seed reloaded")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.WithError(err).Error("Seed watcher error")
			}
		}
	}
}
