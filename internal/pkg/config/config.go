package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig        `koanf:"server"`
	Storage      StorageConfig       `koanf:"storage"`
	Agent        AgentConfig         `koanf:"agent"`
	Delivery     DeliveryConfig      `koanf:"delivery"`
	Destinations []DestinationConfig `koanf:"destinations"`
	Export       ExportConfig        `koanf:"export"`
	Telemetry    TelemetryConfig     `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"` // Duration string like "60s"
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// AgentConfig selects and configures the reasoning agent adapter.
type AgentConfig struct {
	Type    string            `koanf:"type"` // http, gemini
	URL     string            `koanf:"url"`
	APIKey  string            `koanf:"api_key"`
	Model   string            `koanf:"model"`
	Timeout string            `koanf:"timeout"` // Upper bound on one agent call
	Headers map[string]string `koanf:"headers"`
}

// DeliveryConfig configures the delivery queue and worker pool.
type DeliveryConfig struct {
	MaxRetries           int    `koanf:"max_retries"` // Total attempts per conversation
	BaseDelay            string `koanf:"base_delay"`
	MaxDelay             string `koanf:"max_delay"`
	Concurrency          int    `koanf:"concurrency"`
	PerTargetConcurrency int    `koanf:"per_target_concurrency"`
	BatchSize            int    `koanf:"batch_size"`
	PollInterval         string `koanf:"poll_interval"`
	Visibility           string `koanf:"visibility"`
	RequestTimeout       string `koanf:"request_timeout"`
	BlockPrivateTargets  bool   `koanf:"block_private_targets"`
}

// DestinationConfig binds a classification category to a webhook URL. The
// order of destinations is the classifier's rule priority.
type DestinationConfig struct {
	Category string   `koanf:"category"`
	URL      string   `koanf:"url"`
	Hints    []string `koanf:"hints"`    // Extra structured hint values that map to this category
	Patterns []string `koanf:"patterns"` // Case-insensitive regexes over the response body
}

// ExportConfig configures the export sink and sweeper.
type ExportConfig struct {
	Sink          string `koanf:"sink"` // file, sqlite
	Dir           string `koanf:"dir"`
	DSN           string `koanf:"dsn"`
	SweepInterval string `koanf:"sweep_interval"`
	TokenEncoding string `koanf:"token_encoding"`
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Tracing     bool   `koanf:"tracing"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, overlaid by REVOPS_ env vars.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the YAML file at path (if present), overlaid by environment
// variables such as REVOPS_DELIVERY__MAX_RETRIES=3.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("REVOPS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REVOPS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Agent.APIKey = substituteEnvVars(cfg.Agent.APIKey)
	cfg.Agent.URL = substituteEnvVars(cfg.Agent.URL)
	for name, v := range cfg.Agent.Headers {
		cfg.Agent.Headers[name] = substituteEnvVars(v)
	}
	for i := range cfg.Destinations {
		cfg.Destinations[i].URL = substituteEnvVars(cfg.Destinations[i].URL)
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.request_timeout":          "60s",
		"storage.type":                    "sqlite",
		"storage.sqlite.path":             "./data/revops.db",
		"agent.type":                      "http",
		"agent.timeout":                   "45s",
		"agent.model":                     "gemini-2.5-flash",
		"delivery.max_retries":            5,
		"delivery.base_delay":             "1s",
		"delivery.max_delay":              "5m",
		"delivery.concurrency":            8,
		"delivery.per_target_concurrency": 2,
		"delivery.batch_size":             16,
		"delivery.poll_interval":          "500ms",
		"delivery.visibility":             "60s",
		"delivery.request_timeout":        "15s",
		"export.sink":                     "file",
		"export.dir":                      "./data/exports",
		"export.sweep_interval":           "30s",
		"export.token_encoding":           "cl100k_base",
		"telemetry.service_name":          "revops-pipeline",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate reports configuration errors, plus warnings for suspicious but
// usable settings such as two categories sharing one destination URL.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	if c.Delivery.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("delivery.max_retries must be at least 1, got %d", c.Delivery.MaxRetries))
	}
	if c.Delivery.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("delivery.concurrency must be at least 1, got %d", c.Delivery.Concurrency))
	}
	for _, d := range []struct{ name, v string }{
		{"server.request_timeout", c.Server.RequestTimeout},
		{"agent.timeout", c.Agent.Timeout},
		{"delivery.base_delay", c.Delivery.BaseDelay},
		{"delivery.max_delay", c.Delivery.MaxDelay},
		{"delivery.poll_interval", c.Delivery.PollInterval},
		{"delivery.visibility", c.Delivery.Visibility},
		{"delivery.request_timeout", c.Delivery.RequestTimeout},
		{"export.sweep_interval", c.Export.SweepInterval},
	} {
		if d.v == "" {
			continue
		}
		if _, perr := time.ParseDuration(d.v); perr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, perr))
		}
	}

	seenCategory := make(map[string]bool)
	urlOwners := make(map[string][]string)
	hasGeneral := false
	for i, d := range c.Destinations {
		if d.Category == "" {
			errs = append(errs, fmt.Errorf("destinations[%d]: category is required", i))
			continue
		}
		if seenCategory[d.Category] {
			errs = append(errs, fmt.Errorf("destinations[%d]: duplicate category %q", i, d.Category))
		}
		seenCategory[d.Category] = true
		if d.Category == "general" {
			hasGeneral = true
		}
		if d.URL == "" {
			errs = append(errs, fmt.Errorf("destinations[%d] (%s): url is required", i, d.Category))
		} else {
			urlOwners[d.URL] = append(urlOwners[d.URL], d.Category)
		}
		for _, p := range d.Patterns {
			if _, perr := regexp.Compile("(?i)" + p); perr != nil {
				errs = append(errs, fmt.Errorf("destinations[%d] (%s): invalid pattern %q: %w", i, d.Category, p, perr))
			}
		}
	}
	if !hasGeneral {
		errs = append(errs, errors.New(`destinations: a "general" fallback destination is required`))
	}

	for _, d := range c.Destinations {
		owners := urlOwners[d.URL]
		if len(owners) > 1 && owners[0] == d.Category {
			warnings = append(warnings, fmt.Sprintf("destination url %s is shared by categories %s", d.URL, strings.Join(owners, ", ")))
		}
	}

	return warnings, errors.Join(errs...)
}

// Duration parses a duration string, returning def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DestinationURL returns the webhook URL configured for category.
func (c *Config) DestinationURL(category string) (string, bool) {
	for _, d := range c.Destinations {
		if d.Category == category {
			return d.URL, true
		}
	}
	return "", false
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
