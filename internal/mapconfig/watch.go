package mapconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce is how long Watch waits after the last change to the map
// file before reloading it.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the map file at path whenever it changes and passes each
// successfully parsed file to onChange. A file that fails to load is logged
// and skipped. Watch blocks until ctx is done.
//
// The parent directory is watched so that editors which replace the file by
// renaming are seen.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*File)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return eris.Wrapf(err, "mapconfig: resolve %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "mapconfig: create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return eris.Wrapf(err, "mapconfig: watch %s", filepath.Dir(abs))
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		f, err := Load(abs)
		if err != nil {
			zap.L().Warn("map file reload failed, keeping previous", zap.String("path", abs), zap.Error(err))
			return
		}
		zap.L().Info("map file reloaded", zap.String("path", abs), zap.Int("layers", len(f.Layers)))
		onChange(f)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("map file watcher error", zap.Error(err))
		}
	}
}
