package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

const baseConfig = `
destinations:
  - category: deal_analysis
    url: https://hooks.example.com/deals
  - category: general
    url: https://hooks.example.com/general
`

const updatedConfig = `
destinations:
  - category: deal_analysis
    url: https://hooks.example.com/deals
  - category: lead_analysis
    url: https://hooks.example.com/leads
    patterns: ["\\blead score\\b"]
  - category: general
    url: https://hooks.example.com/general
`

const invalidConfig = `
destinations:
  - category: deal_analysis
    url: https://hooks.example.com/deals
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("NewProvider(\"\") succeeded")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	p, err := NewProvider(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Destinations) != 2 || p.Current() != cfg {
		t.Errorf("destinations = %+v", cfg.Destinations)
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5", cfg.Delivery.MaxRetries)
	}

	writeConfig(t, path, invalidConfig)
	if _, err := p.Load(context.Background()); err == nil {
		t.Error("Load() accepted a config without a general destination")
	}
}

func TestProvider_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	p, err := NewProvider(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(c *config.Config) { changes <- c }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// An invalid edit is skipped; the following valid one is delivered.
	writeConfig(t, path, invalidConfig)
	writeConfig(t, path, updatedConfig)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if len(c.Destinations) == 3 {
				if p.Current() != c {
					t.Error("Current() not updated")
				}
				return
			}
		case <-deadline:
			t.Fatal("no config change observed")
		}
	}
}
