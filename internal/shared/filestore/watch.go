package filestore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch calls onChange whenever the object at p is written or replaced,
// until ctx is done. The parent directory is watched so atomic renames
// by the publisher are seen.
func (s *Store) Watch(ctx context.Context, p string, log zerolog.Logger, onChange func()) error {
	full := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+p)))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(full)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(full), err)
	}

	go func() {
		defer watcher.Close()
		filename := filepath.Base(full)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Debug().
						Str("event", event.Op.String()).
						Str("file", event.Name).
						Msg("object changed")
					onChange()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("object watcher error")

			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Str("path", full).Msg("watching object for changes")
	return nil
}
