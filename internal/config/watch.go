package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period Watch waits for after the last change
// to the config file before reloading it.
const DefaultDebounce = 500 * time.Millisecond

// Watch reloads opts whenever its config file is written, created or
// replaced, and hands the resulting Settings to apply. Bursts of events are
// collapsed into one reload. A file that fails to load or validate is
// logged and the previous settings stay in effect. Watch returns once the
// watcher is running; it stops when ctx is done.
func Watch(ctx context.Context, opts *Options, debounce time.Duration, apply func(*Settings), log *zap.Logger) error {
	if opts.Config == "" {
		return fmt.Errorf("%w: no config file to watch", ErrInvalid)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory.
	target := filepath.Clean(opts.Config)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	reload := func() {
		next, err := opts.Reload()
		if err != nil {
			log.Warn("config reload failed", zap.String("file", target), zap.Error(err))
			return
		}
		s, err := next.Settings()
		if err != nil {
			log.Warn("config reload rejected", zap.String("file", target), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", target), zap.String("realm", s.Realm))
		apply(s)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
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
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
