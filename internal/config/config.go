// Package config handles adpilot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/adpilot/config.yaml, /etc/adpilot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "adpilot", "config.yaml"))
	}

	paths = append(paths, "/etc/adpilot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all adpilot configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ads       PlatformConfig `yaml:"ads"`
	Checkout  PlatformConfig `yaml:"checkout"`
	Agent     AgentConfig    `yaml:"agent"`
	DataDir   string         `yaml:"data_dir" env:"ADPILOT_DATA_DIR"`
	LogLevel  string         `yaml:"log_level" env:"ADPILOT_LOG_LEVEL"`
}

// ListenConfig defines the HTTP server bind address.
type ListenConfig struct {
	Address string `yaml:"address" env:"ADPILOT_LISTEN_ADDRESS"`
	Port    int    `yaml:"port" env:"ADPILOT_LISTEN_PORT"`
}

// AnthropicConfig defines reasoning oracle settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	// Model drives the main reasoning loop.
	Model string `yaml:"model" env:"ADPILOT_MODEL"`
	// ExtractModel is the lightweight model used for fact extraction.
	// Defaults to Model when empty.
	ExtractModel string `yaml:"extract_model" env:"ADPILOT_EXTRACT_MODEL"`
}

// PlatformConfig defines a platform gateway connection.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// AgentConfig tunes the reasoning loop and confirmation gateway.
type AgentConfig struct {
	// MaxToolRounds caps oracle round-trips per turn. A turn that hits
	// the cap ends with a graceful notice rather than an error.
	MaxToolRounds int `yaml:"max_tool_rounds" env:"ADPILOT_MAX_TOOL_ROUNDS"`
	// ConfirmTTLMinutes is how long a staged action stays confirmable.
	ConfirmTTLMinutes int `yaml:"confirm_ttl_minutes" env:"ADPILOT_CONFIRM_TTL_MINUTES"`
	// DefaultUser is the operator identity assumed when a request
	// carries no X-Adpilot-User header.
	DefaultUser string `yaml:"default_user" env:"ADPILOT_DEFAULT_USER"`
}

// Load reads a YAML config file and then applies environment variable
// overrides. Environment always wins over the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8799
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.Anthropic.ExtractModel == "" {
		c.Anthropic.ExtractModel = c.Anthropic.Model
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = 8
	}
	if c.Agent.ConfirmTTLMinutes <= 0 {
		c.Agent.ConfirmTTLMinutes = 5
	}
	if c.Agent.DefaultUser == "" {
		c.Agent.DefaultUser = "operator"
	}
}

// ConfirmTTL returns the pending-action TTL as a duration.
func (c *Config) ConfirmTTL() time.Duration {
	return time.Duration(c.Agent.ConfirmTTLMinutes) * time.Minute
}

// Validate checks for settings the process cannot start without.
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required")
	}
	if c.Ads.BaseURL == "" && c.Checkout.BaseURL == "" {
		return fmt.Errorf("at least one platform (ads, checkout) must be configured")
	}
	return nil
}
