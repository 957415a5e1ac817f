package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the workspace config file.
const FileName = "supervisory.yml"

// Config models supervisory.yml.
type Config struct {
	Registry struct {
		Root   string `yaml:"root"`
		Shared string `yaml:"shared"`
	} `yaml:"registry"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Audit struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"audit"`
	Server struct {
		Addr     string     `yaml:"addr"`
		BasePath string     `yaml:"base_path"`
		Auth     AuthConfig `yaml:"auth"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AllowAgentHeader accepts X-Agent-Id as the caller identity without a token.
	AllowAgentHeader bool `yaml:"allow_agent_header"`
	// DevLogin enables POST /auth/dev/login, which mints tokens for any agent.
	DevLogin      bool `yaml:"dev_login"`
	TokenTTLHours int  `yaml:"token_ttl_hours"`
}

type WebhookConfig struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled defaults to true when the field is omitted.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with supv config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Registry.Root) == "" {
		return fmt.Errorf("config.registry.root is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format %q must be text or json", c.Log.Format)
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.Auth.TokenTTLHours < 0 {
		return fmt.Errorf("config.server.auth.token_ttl_hours must not be negative")
	}
	seen := map[string]bool{}
	for i, wh := range c.Webhooks {
		if wh.ID == "" {
			return fmt.Errorf("config.webhooks[%d].id is required", i)
		}
		if seen[wh.ID] {
			return fmt.Errorf("config.webhooks has duplicate id %s", wh.ID)
		}
		seen[wh.ID] = true
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %s url must be an absolute http(s) url", wh.ID)
		}
		for _, ev := range wh.Events {
			if ev == "" {
				return fmt.Errorf("webhook %s has empty event type", wh.ID)
			}
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %s timeout_seconds must not be negative", wh.ID)
		}
	}
	return nil
}

// RegistryRoot resolves the registry root against the workspace.
func (c *Config) RegistryRoot(workspace string) string {
	return resolve(workspace, c.Registry.Root)
}

// SharedDir resolves the shared capability directory, defaulting to
// <root>/shared.
func (c *Config) SharedDir(workspace string) string {
	if c.Registry.Shared == "" {
		return filepath.Join(c.RegistryRoot(workspace), "shared")
	}
	return resolve(workspace, c.Registry.Shared)
}

func resolve(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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

const defaultTemplate = `registry:
  root: registry
  # shared: registry/shared

log:
  level: info
  format: text

audit:
  enabled: true

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  auth:
    # jwt_secret: change-me
    allow_agent_header: false
    dev_login: false
    token_ttl_hours: 24

# webhooks:
#   - id: siem
#     url: https://siem.example.com/hooks/supervisory
#     secret: change-me
#     events: [skill.denied]
#     timeout_seconds: 5
`
