package options

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads an options file whenever it changes on disk.
type Watcher struct {
	path     string
	onChange func(Source)
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher prepares a watcher for path; onChange receives every successful
// reload. Parse failures are logged and the previous options stay in effect.
func NewWatcher(path string, onChange func(Source)) *Watcher {
	return &Watcher{path: filepath.Clean(path), onChange: onChange, debounce: defaultDebounce}
}

// Run watches until ctx is done. The parent directory is watched so editors
// that save through rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "options: create watcher failed")
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return errors.Wrapf(err, "options: watch %s failed", dir)
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()
	log.Info().Str("path", w.path).Msg("watching options file")

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		fw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("path", w.path).Msg("options watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	src, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("options reload failed, keeping previous options")
		return
	}
	log.Info().Str("path", w.path).Int("keys", len(src.Values)).Msg("options reloaded")
	if w.onChange != nil {
		w.onChange(src)
	}
}
