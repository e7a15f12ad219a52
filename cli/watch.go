package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/armarker/logging"
)

// DefaultWatchDebounce is how long the calibration file must stay quiet before a restart.
const DefaultWatchDebounce = 250 * time.Millisecond

// watchFile sends on the returned channel after path is written, created or renamed into place
// and then left alone for quiet. The directory is watched rather than the file so that editors
// that replace the file keep triggering. The channel holds at most one pending change.
func watchFile(ctx context.Context, path string, quiet time.Duration, logger logging.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, multierr.Combine(err, watcher.Close())
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", path), watcher.Close())
	}

	changed := make(chan struct{}, 1)
	debounced := debounce.New(quiet)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	goutils.PanicCapturingGo(func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnw("error closing file watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debugw("calibration file changed", "path", event.Name, "op", event.Op.String())
				debounced(notify)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("file watcher error", "error", err)
			}
		}
	})
	return changed, nil
}
