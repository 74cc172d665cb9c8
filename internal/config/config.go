// Package config loads the service configuration from muse.yaml and
// MUSE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig covers the HTTP API.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr is the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig selects the log sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// ProviderEndpoint describes one generation provider.
type ProviderEndpoint struct {
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Configured reports whether the endpoint is usable.
func (p ProviderEndpoint) Configured() bool {
	return p.BaseURL != ""
}

// ProviderConfig holds the primary endpoint, an optional fallback, and the
// retry policy shared by both.
type ProviderConfig struct {
	Primary     ProviderEndpoint `mapstructure:"primary"`
	Fallback    ProviderEndpoint `mapstructure:"fallback"`
	MaxAttempts int              `mapstructure:"max_attempts"`
	BaseDelay   time.Duration    `mapstructure:"base_delay"`
	MaxDelay    time.Duration    `mapstructure:"max_delay"`
}

// QuotaConfig caps per-user daily generations.
type QuotaConfig struct {
	DailyCap int `mapstructure:"daily_cap"`
}

// StorageConfig selects the durable artifact store.
type StorageConfig struct {
	Dir       string `mapstructure:"dir"`
	PublicURL string `mapstructure:"public_url"`
}

// DatabaseConfig locates the SQLite files.
type DatabaseConfig struct {
	UsagePath     string `mapstructure:"usage_path"`
	DocumentsPath string `mapstructure:"documents_path"`
}

// ConfirmConfig tunes the suggestion state machine.
type ConfirmConfig struct {
	SuggestionTTL   time.Duration `mapstructure:"suggestion_ttl"`
	Retention       time.Duration `mapstructure:"retention"`
	StateCapacity   int           `mapstructure:"state_capacity"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// TracingConfig enables the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig   `mapstructure:"server"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Provider    ProviderConfig `mapstructure:"provider"`
	Quota       QuotaConfig    `mapstructure:"quota"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Database    DatabaseConfig `mapstructure:"database"`
	Confirm     ConfirmConfig  `mapstructure:"confirm"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
	CatalogPath string         `mapstructure:"catalog_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8780)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("provider.primary.name", "primary")
	v.SetDefault("provider.primary.timeout", 60*time.Second)
	v.SetDefault("provider.fallback.name", "fallback")
	v.SetDefault("provider.fallback.timeout", 60*time.Second)
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.base_delay", time.Second)
	v.SetDefault("provider.max_delay", 30*time.Second)
	v.SetDefault("quota.daily_cap", 20)
	v.SetDefault("storage.dir", "data/artifacts")
	v.SetDefault("database.usage_path", "data/usage.db")
	v.SetDefault("database.documents_path", "data/documents.db")
	v.SetDefault("confirm.suggestion_ttl", 15*time.Minute)
	v.SetDefault("confirm.retention", time.Hour)
	v.SetDefault("confirm.state_capacity", 4096)
	v.SetDefault("confirm.janitor_interval", time.Minute)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "muse")
}

// Load reads the configuration. path may be empty, in which case muse.yaml
// is searched for in the working directory and ~/.muse; a missing file is
// fine, defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("muse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.muse")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Quota.DailyCap <= 0 {
		return fmt.Errorf("config: quota.daily_cap must be positive, got %d", c.Quota.DailyCap)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Confirm.SuggestionTTL <= 0 {
		return fmt.Errorf("config: confirm.suggestion_ttl must be positive")
	}
	return nil
}
