package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CONDUIT_COOKIE_SECRET", "cookie-secret")

	path := writeConfig(t, `
server:
  addr: ":9090"
model:
  api_key: ${OPENAI_API_KEY}
  model: gpt-4o
store:
  backend: memory
  ttl: 24h
context:
  max_tokens: 4000
logging:
  level: debug
  format: text
chat:
  cookie_secret: ${CONDUIT_COOKIE_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Model.APIKey != "sk-test" {
		t.Errorf("env expansion failed: %q", cfg.Model.APIKey)
	}
	if cfg.Store.TTL != 24*time.Hour {
		t.Errorf("ttl = %v", cfg.Store.TTL)
	}
	if cfg.Context.MaxTokens != 4000 {
		t.Errorf("context override lost: %d", cfg.Context.MaxTokens)
	}
	// Defaults survive for keys the file does not set.
	if cfg.Context.MaxMessages != 100 {
		t.Errorf("default max_messages lost: %d", cfg.Context.MaxMessages)
	}
	if cfg.Store.SweepSchedule != "@hourly" {
		t.Errorf("default sweep schedule lost: %q", cfg.Store.SweepSchedule)
	}
}

func TestLoadEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CONDUIT_COOKIE_SECRET", "secret-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.APIKey != "sk-env" || cfg.Chat.CookieSecret != "secret-env" {
		t.Errorf("environment fallback not applied: %+v", cfg.Chat)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CONDUIT_COOKIE_SECRET", "")

	t.Run("missing credentials fail fast", func(t *testing.T) {
		_, err := Load("")
		if err == nil {
			t.Fatal("expected validation failure")
		}
		if !strings.Contains(err.Error(), "api_key") {
			t.Errorf("error does not name the missing key: %v", err)
		}
	})

	t.Run("unsupported backend rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Model.APIKey = "k"
		cfg.Chat.CookieSecret = "s"
		cfg.Store.Backend = "redis"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation failure for unsupported backend")
		}
	})

	t.Run("sqlite requires a path", func(t *testing.T) {
		cfg := Default()
		cfg.Model.APIKey = "k"
		cfg.Chat.CookieSecret = "s"
		cfg.Store.Path = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected validation failure for missing sqlite path")
		}
	})
}
