package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("default port", func(t *testing.T) {
		t.Setenv("REVOPS_SERVER__PORT", "")
		os.Unsetenv("REVOPS_SERVER__PORT")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Delivery.MaxRetries != 5 {
			t.Errorf("Load() max_retries = %v, want 5", cfg.Delivery.MaxRetries)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("REVOPS_SERVER__PORT", "9000")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
	})
}

const sampleYAML = `
server:
  port: 7070
delivery:
  max_retries: 3
  base_delay: 250ms
destinations:
  - category: deal_analysis
    url: https://hooks.example.com/deals
    hints: [deal, opportunity]
    patterns: ["\\bdeal\\b"]
  - category: lead_analysis
    url: ${LEAD_HOOK}
  - category: general
    url: https://hooks.example.com/general
`

func TestLoadFile(t *testing.T) {
	t.Setenv("LEAD_HOOK", "https://hooks.example.com/leads")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Delivery.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Delivery.MaxRetries)
	}
	if got := Duration(cfg.Delivery.BaseDelay, time.Second); got != 250*time.Millisecond {
		t.Errorf("base_delay = %v, want 250ms", got)
	}
	if len(cfg.Destinations) != 3 {
		t.Fatalf("destinations = %d, want 3", len(cfg.Destinations))
	}
	if cfg.Destinations[0].Category != "deal_analysis" {
		t.Errorf("destinations[0] = %q, want deal_analysis", cfg.Destinations[0].Category)
	}
	if url, _ := cfg.DestinationURL("lead_analysis"); url != "https://hooks.example.com/leads" {
		t.Errorf("lead url = %q, want substituted env value", url)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Validate() warnings = %v, want none", warnings)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Delivery: DeliveryConfig{MaxRetries: 5, Concurrency: 1, BaseDelay: "1s"},
			Destinations: []DestinationConfig{
				{Category: "deal_analysis", URL: "https://a.example.com"},
				{Category: "general", URL: "https://b.example.com"},
			},
		}
	}

	t.Run("duplicate url warns", func(t *testing.T) {
		cfg := base()
		cfg.Destinations[1].URL = cfg.Destinations[0].URL

		warnings, err := cfg.Validate()
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if len(warnings) != 1 || !strings.Contains(warnings[0], "deal_analysis, general") {
			t.Errorf("Validate() warnings = %v, want one shared-url warning", warnings)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing general", func(c *Config) { c.Destinations = c.Destinations[:1] }, `"general" fallback`},
		{"zero retries", func(c *Config) { c.Delivery.MaxRetries = 0 }, "max_retries"},
		{"bad duration", func(c *Config) { c.Delivery.BaseDelay = "soon" }, "delivery.base_delay"},
		{"bad pattern", func(c *Config) { c.Destinations[0].Patterns = []string{"(unclosed"} }, "invalid pattern"},
		{"missing url", func(c *Config) { c.Destinations[0].URL = "" }, "url is required"},
		{"duplicate category", func(c *Config) {
			c.Destinations = append(c.Destinations, DestinationConfig{Category: "general", URL: "https://c.example.com"})
		}, "duplicate category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			_, err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "${TEST_VAR}",
			want:  "test-value",
		},
		{
			name:  "substitution in string",
			input: "prefix-${TEST_VAR}-suffix",
			want:  "prefix-test-value-suffix",
		},
		{
			name:  "no substitution",
			input: "plain-string",
			want:  "plain-string",
		},
		{
			name:  "undefined var",
			input: "${UNDEFINED_VAR}",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
