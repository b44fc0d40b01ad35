// Package config loads bunquery's configuration the way bunbase loads
// its services' configuration: a TOML file provides the base, and
// BUNQUERY_-prefixed environment variables override individual keys
// (prefix stripped, rest lowercased; no dot-path folding), via viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of options recognized by bunquery.
type Config struct {
	SupabaseURL   string `mapstructure:"supabase_url"`
	SupabaseKey   string `mapstructure:"supabase_key"`
	Port          string `mapstructure:"port"`
	MaxWorkers    int    `mapstructure:"max_workers"`
	QueueCapacity int    `mapstructure:"queue_capacity"`

	MetadataBackend string `mapstructure:"metadata_backend"` // "supabase" | "postgres"
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	MigrationsPath  string `mapstructure:"migrations_path"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MaxInboundFrameBytes int `mapstructure:"max_inbound_frame_bytes"`
}

// defaults returns bunquery's baseline configuration before any file or
// environment overrides are applied.
func defaults() Config {
	return Config{
		Port:                 "8080",
		MaxWorkers:           3,
		QueueCapacity:        100,
		MetadataBackend:      "supabase",
		LogLevel:             "INFO",
		LogFormat:            "json",
		MaxInboundFrameBytes: 64 * 1024,
	}
}

// Load reads path (a TOML file; missing is not an error) into a Config
// seeded with defaults, then applies BUNQUERY_-prefixed environment
// variable overrides to the matching flat keys.
func Load(path string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	const prefix = "BUNQUERY_"
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		// bunquery's config is flat, so unlike pkg/config's nested
		// db.host-style folding, the BUNQUERY_ prefix is simply
		// stripped and lowercased to match the mapstructure tags above.
		propKey := strings.ToLower(strings.TrimPrefix(key, prefix))
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that must hold before the server starts.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be > 0")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be > 0")
	}
	switch c.MetadataBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("supabase_url and supabase_key are required when metadata_backend=supabase")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required when metadata_backend=postgres")
		}
	default:
		return fmt.Errorf("unknown metadata_backend %q", c.MetadataBackend)
	}
	return nil
}
