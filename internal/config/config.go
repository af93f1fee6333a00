// Package config loads the service configuration from YAML with environment
// variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/observability"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Model   ModelConfig             `yaml:"model"`
	Store   StoreConfig             `yaml:"store"`
	Context budget.Config           `yaml:"context"`
	Logging observability.LogConfig `yaml:"logging"`
	Chat    ChatConfig              `yaml:"chat"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig configures the model provider.
type ModelConfig struct {
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxSteps   int           `yaml:"max_steps"`
}

// StoreConfig configures conversation persistence.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file, ignored for memory.
	Path string `yaml:"path"`

	// TTL is the conversation record lifetime, refreshed on save.
	TTL time.Duration `yaml:"ttl"`

	// SweepSchedule is a cron expression for the expired-row sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ChatConfig configures the chat surface.
type ChatConfig struct {
	CookieSecret string `yaml:"cookie_secret"`
	SystemPrompt string `yaml:"system_prompt"`
	Welcome      string `yaml:"welcome"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Model:    "gpt-4o-mini",
			MaxSteps: 8,
		},
		Store: StoreConfig{
			Backend:       "sqlite",
			Path:          "conduit.db",
			TTL:           7 * 24 * time.Hour,
			SweepSchedule: "@hourly",
		},
		Context: budget.DefaultConfig(),
		Logging: observability.LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file over the defaults. Environment references
// like ${OPENAI_API_KEY} are expanded before parsing. An empty path returns
// the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credentials from the environment when the file left them
// empty.
func applyEnv(cfg *Config) {
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Chat.CookieSecret == "" {
		cfg.Chat.CookieSecret = os.Getenv("CONDUIT_COOKIE_SECRET")
	}
}

// Validate fails fast on unusable configuration.
func (c *Config) Validate() error {
	var problems []string
	if c.Model.APIKey == "" {
		problems = append(problems, "model.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.Chat.CookieSecret == "" {
		problems = append(problems, "chat.cookie_secret is required (or set CONDUIT_COOKIE_SECRET)")
	}
	switch strings.ToLower(c.Store.Backend) {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite backend")
		}
	case "memory", "":
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q is not supported", c.Store.Backend))
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
