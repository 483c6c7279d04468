// Package file provides file-based configuration with hot-reload.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

// Provider implements ports.ConfigProvider using file-based configuration.
// It watches the config file for changes and triggers reload callbacks.
type Provider struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	mu      sync.RWMutex
	current *config.Config
}

var _ ports.ConfigProvider = (*Provider)(nil)

// NewProvider creates a new file-based config provider.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		path:   path,
		logger: logger.With(slog.String("component", "config")),
	}, nil
}

// Load loads and validates the configuration from the file.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := p.read()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()
	p.logger.Info("config loaded", slog.String("path", p.path))

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Provider) read() (*config.Config, error) {
	cfg, err := config.LoadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", p.path, err)
	}
	for _, w := range warnings {
		p.logger.Warn("config warning", slog.String("warning", w))
	}
	return cfg, nil
}

// Watch watches the config file for changes and calls onChange with each
// valid new configuration. Invalid edits are logged and ignored so the
// running configuration stays in effect.
//
// The parent directory is watched because editors often replace the file
// rather than write it in place.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(p.path)

	p.logger.Info("watching config file for changes", slog.String("path", p.path))

	go func() {
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("config watch stopped")
				watcher.Close()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				p.logger.Info("config file changed, reloading", slog.String("path", event.Name))
				cfg, err := p.read()
				if err != nil {
					p.logger.Error("failed to reload config", slog.String("error", err.Error()))
					continue
				}

				p.mu.Lock()
				p.current = cfg
				p.mu.Unlock()

				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("config watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the config file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		return p.watcher.Close()
	}

	return nil
}
