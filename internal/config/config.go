// Package config provides Viper-based configuration loading for the console binary.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/app"
)

// EnvPrefix prefixes every environment override, e.g.
// ASSETCONSOLE_BACKEND_ENDPOINT for backend.endpoint.
const EnvPrefix = "ASSETCONSOLE"

// Config represents the complete console configuration.
type Config struct {
	Backend    BackendConfig    `mapstructure:"backend"`
	Session    SessionConfig    `mapstructure:"session"`
	Routes     RoutesConfig     `mapstructure:"routes"`
	Dictionary DictionaryConfig `mapstructure:"dictionary"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// BackendConfig locates the asset backend.
type BackendConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	PasswordKey    string        `mapstructure:"password_key"`
	JWKSUrl        string        `mapstructure:"jwks_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SessionConfig controls session persistence and expiry handling.
type SessionConfig struct {
	RedirectDelay    time.Duration `mapstructure:"redirect_delay"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	ExpiryWarnBuffer time.Duration `mapstructure:"expiry_warn_buffer"`
	StorageDir       string        `mapstructure:"storage_dir"`
	Redis            RedisConfig   `mapstructure:"redis"`
}

// RedisConfig selects Redis as the persistent session storage.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RoutesConfig names the console's entry routes.
type RoutesConfig struct {
	Public  string `mapstructure:"public"`
	Default string `mapstructure:"default"`
}

// DictionaryConfig tunes the dictionary cache.
type DictionaryConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

// ServerConfig contains the web listener settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// MetricsConfig contains Prometheus settings. Listen, when set, serves
// /metrics on a separate address as well.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Buffer  int  `mapstructure:"buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".assetconsole")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/assetconsole")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.endpoint", "")
	v.SetDefault("backend.password_key", "")
	v.SetDefault("backend.jwks_url", "")
	v.SetDefault("backend.request_timeout", console.DefaultRequestTimeout)

	v.SetDefault("session.redirect_delay", console.DefaultRedirectDelay)
	v.SetDefault("session.settle_delay", console.DefaultSettleDelay)
	v.SetDefault("session.expiry_warn_buffer", console.DefaultExpiryWarnBuffer)
	v.SetDefault("session.storage_dir", "")
	v.SetDefault("session.redis.addr", "")
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.prefix", "assetconsole:")

	v.SetDefault("routes.public", console.RouteLogin)
	v.SetDefault("routes.default", console.RouteDefault)

	v.SetDefault("dictionary.ttl", console.DefaultDictionaryTTL)
	v.SetDefault("dictionary.size", console.DefaultDictionarySize)

	v.SetDefault("server.listen", ":8080")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}

	// The password key is used directly as an AES key.
	switch len(cfg.Backend.PasswordKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("backend.password_key must be 16, 24 or 32 bytes, got %d", len(cfg.Backend.PasswordKey))
	}

	if !strings.HasPrefix(cfg.Routes.Public, "/") || !strings.HasPrefix(cfg.Routes.Default, "/") {
		return fmt.Errorf("routes must be absolute paths")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be text or json)", cfg.Logging.Format)
	}

	return nil
}

// App converts the configuration into the app wiring config.
func (c *Config) App() app.Config {
	return app.Config{
		Console: console.Config{
			Endpoint:         c.Backend.Endpoint,
			PasswordKey:      c.Backend.PasswordKey,
			JWKSUrl:          c.Backend.JWKSUrl,
			RequestTimeout:   c.Backend.RequestTimeout,
			RedirectDelay:    c.Session.RedirectDelay,
			SettleDelay:      c.Session.SettleDelay,
			ExpiryWarnBuffer: c.Session.ExpiryWarnBuffer,
			DictionaryTTL:    c.Dictionary.TTL,
			DictionarySize:   c.Dictionary.Size,
			PublicRoute:      c.Routes.Public,
			DefaultRoute:     c.Routes.Default,
		},
		Listen:        c.Server.Listen,
		StorageDir:    c.Session.StorageDir,
		RedisAddr:     c.Session.Redis.Addr,
		RedisPassword: c.Session.Redis.Password,
		RedisDB:       c.Session.Redis.DB,
		RedisPrefix:   c.Session.Redis.Prefix,
		Metrics:       c.Metrics.Enabled,
		Audit:         c.Audit.Enabled,
		AuditBuffer:   c.Audit.Buffer,
	}
}
