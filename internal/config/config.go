package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Tasks struct {
		IDPrefix    string `yaml:"id_prefix"`
		IDWidth     int    `yaml:"id_width"`
		DefaultTopK int    `yaml:"default_top_k"`
	} `yaml:"tasks"`
	Events struct {
		DSN string `yaml:"dsn"`
	} `yaml:"events"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig posts task events to an HTTP endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Server.RateLimit.RPS < 0 {
		return fmt.Errorf("config.server.rate_limit.rps must not be negative")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst < 1 {
		return fmt.Errorf("config.server.rate_limit.burst must be positive when rps is set")
	}
	if c.Tasks.IDPrefix == "" {
		return fmt.Errorf("config.tasks.id_prefix is required")
	}
	if strings.ContainsAny(c.Tasks.IDPrefix, "/ ") {
		return fmt.Errorf("config.tasks.id_prefix must not contain spaces or '/'")
	}
	if c.Tasks.IDWidth < 1 || c.Tasks.IDWidth > 12 {
		return fmt.Errorf("config.tasks.id_width must be between 1 and 12")
	}
	if c.Tasks.DefaultTopK < 1 {
		return fmt.Errorf("config.tasks.default_top_k must be positive")
	}
	if c.Events.DSN == "" {
		return fmt.Errorf("config.events.dsn is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if !strings.HasPrefix(evt, "task.") {
				return fmt.Errorf("config.webhooks[%d].events: unknown event %q", i, evt)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  # Requests per second across all clients; 0 disables limiting.
  rate_limit:
    rps: 0
    burst: 20

tasks:
  id_prefix: TASK
  id_width: 4
  default_top_k: 5

events:
  # In-memory by default; point at a file path to keep the audit log.
  dsn: ":memory:"

log:
  level: info
  format: text

# webhooks:
#   - url: https://example.com/hooks/taskline
#     events: [task.created, task.popped]
#     secret: change-me
#     timeout_seconds: 5
`
