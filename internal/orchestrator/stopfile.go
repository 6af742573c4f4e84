package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// StopFileName is the marker file that requests a graceful shutdown when it
// appears in the output directory. The stop subcommand creates it.
const StopFileName = ".troupe-stop"

// watchStopFile signals on the returned channel when the stop marker
// appears in dir. A marker already present at startup signals immediately.
// The watcher closes when the context ends; watch setup failures are logged
// and disable the feature rather than failing the run.
func watchStopFile(ctx context.Context, dir string, logger zerolog.Logger) <-chan struct{} {
	signal := make(chan struct{}, 1)
	marker := filepath.Join(dir, StopFileName)

	if _, err := os.Stat(marker); err == nil {
		signal <- struct{}{}
		return signal
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("stop-file watcher unavailable")
		return signal
	}
	if err := watcher.Add(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch output directory")
		watcher.Close()
		return signal
	}

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
				if ev.Op.Has(fsnotify.Create) && filepath.Base(ev.Name) == StopFileName {
					select {
					case signal <- struct{}{}:
					default:
					}
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("stop-file watcher error")
			}
		}
	}()
	return signal
}
