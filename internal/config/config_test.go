package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	console "github.com/chimerakang/assetconsole"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
backend:
  endpoint: https://assets.example.com/api
  password_key: 0123456789abcdef
session:
  redirect_delay: 5s
  redis:
    addr: localhost:6379
dictionary:
  size: 64
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Endpoint != "https://assets.example.com/api" {
		t.Errorf("endpoint = %q", cfg.Backend.Endpoint)
	}
	if cfg.Session.RedirectDelay != 5*time.Second {
		t.Errorf("redirect_delay = %v", cfg.Session.RedirectDelay)
	}
	if cfg.Session.SettleDelay != console.DefaultSettleDelay {
		t.Errorf("settle_delay default = %v", cfg.Session.SettleDelay)
	}
	if cfg.Session.Redis.Prefix != "assetconsole:" {
		t.Errorf("redis prefix default = %q", cfg.Session.Redis.Prefix)
	}

	ac := cfg.App()
	if ac.Console.DictionarySize != 64 || ac.RedisAddr != "localhost:6379" || ac.Listen != ":8080" {
		t.Errorf("App() = %+v", ac)
	}
	if ac.Console.PublicRoute != console.RouteLogin {
		t.Errorf("public route = %q", ac.Console.PublicRoute)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "backend:\n  endpoint: https://file.example.com\n")
	t.Setenv("ASSETCONSOLE_BACKEND_ENDPOINT", "https://env.example.com")
	t.Setenv("ASSETCONSOLE_SESSION_SETTLE_DELAY", "250ms")
	t.Setenv("ASSETCONSOLE_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Endpoint != "https://env.example.com" {
		t.Errorf("endpoint = %q", cfg.Backend.Endpoint)
	}
	if cfg.Session.SettleDelay != 250*time.Millisecond {
		t.Errorf("settle_delay = %v", cfg.Session.SettleDelay)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics still enabled")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing endpoint", "logging:\n  level: info\n", "backend.endpoint"},
		{"bad key length", "backend:\n  endpoint: http://x\n  password_key: short\n", "password_key"},
		{"relative route", "backend:\n  endpoint: http://x\nroutes:\n  public: login\n", "absolute"},
		{"bad level", "backend:\n  endpoint: http://x\nlogging:\n  level: loud\n", "logging level"},
		{"bad format", "backend:\n  endpoint: http://x\nlogging:\n  format: xml\n", "logging format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
