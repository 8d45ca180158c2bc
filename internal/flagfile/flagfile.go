// Package flagfile loads flag definitions from a YAML or JSON file and reloads
// them when the file changes.
package flagfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/validation"
)

// debounceDelay lets editors finish writing before the file is re-read.
const debounceDelay = 250 * time.Millisecond

// Load reads path, validates every flag and builds a snapshot from it.
func Load(path, salt string) (*flagmodel.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flags file: %w", err)
	}
	flags, err := flagmodel.ParseFlagsFile(data)
	if err != nil {
		return nil, err
	}
	for _, f := range flags {
		if err := validation.ValidateFlag(f).Err(); err != nil {
			return nil, fmt.Errorf("flag %q: %w", f.Key, err)
		}
	}
	return flagmodel.BuildSnapshot(flags, salt), nil
}

// Watch calls onChange with a fresh snapshot each time path is written,
// created or renamed into place, until ctx is done. Reload failures are
// logged and the previous snapshot stays in effect.
func Watch(ctx context.Context, path, salt string, logger zerolog.Logger, onChange func(*flagmodel.Snapshot)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing it.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	logger = logger.With().Str("path", path).Logger()
	target := filepath.Clean(path)

	go func() {
		defer w.Close()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if ctx.Err() != nil {
						return
					}
					snap, err := Load(path, salt)
					if err != nil {
						logger.Error().Err(err).Msg("failed to reload flags file")
						return
					}
					logger.Info().Int("flags", len(snap.Flags)).Str("etag", snap.ETag).Msg("flags file reloaded")
					onChange(snap)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("flags file watcher failed")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
