// Package planwatch reports changes to a plan file. It watches the file's
// directory so that editors which replace the file on save are seen too.
package planwatch

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 500 * time.Millisecond

// Config holds watcher configuration
type Config struct {
	Path     string
	Debounce time.Duration
	OnChange func(path string)
	Logger   *zerolog.Logger
}

// Watcher calls OnChange once per burst of writes to the watched file
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(path string)
	debounce time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

// New starts watching cfg.Path
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("plan path is required")
	}
	if cfg.OnChange == nil {
		return nil, errors.New("change callback is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Logger == nil {
		l := log.Logger
		cfg.Logger = &l
	}

	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		path:     path,
		onChange: cfg.OnChange,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "planwatch").Str("path", path).Logger(),
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher; a pending change notification is dropped
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("op", event.Op.String()).
					Msg("Plan file change detected")

				w.scheduleChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Plan watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleChange debounces the change callback
func (w *Watcher) scheduleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.onChange(w.path)
	})
}
