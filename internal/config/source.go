package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source holds the current configuration. Readers always see a complete
// Config; Reload swaps in a new one only when it loads cleanly.
type Source struct {
	current atomic.Pointer[Config]
	load    func() (Config, error)
	logger  *slog.Logger
}

func NewSource(load func() (Config, error), logger *slog.Logger) (*Source, error) {
	if load == nil {
		load = Load
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	s := &Source{load: load, logger: logger}
	s.current.Store(&cfg)
	return s, nil
}

// Static wraps a fixed Config.
func Static(cfg Config) *Source {
	s := &Source{load: func() (Config, error) { return cfg, nil }, logger: slog.Default()}
	s.current.Store(&cfg)
	return s
}

func (s *Source) Current() Config {
	return *s.current.Load()
}

func (s *Source) Reload() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	s.current.Store(&cfg)
	return nil
}

// Watch reloads whenever one of files changes, until ctx is done. Parent
// directories are watched so editors that replace files are noticed.
func (s *Source) Watch(ctx context.Context, files ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, f := range files {
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(targets) == 0 {
		<-ctx.Done()
		return nil
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch config dir: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[abs]; !ok {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("config_reload_failed", "file", abs, "error", err)
				continue
			}
			s.logger.Info("config_reloaded", "file", abs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config_watch_error", "error", err)
		}
	}
}
