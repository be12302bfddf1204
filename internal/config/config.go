// Package config reads the CLI's defaults from WASMGATE_* environment
// variables. Command-line flags override them.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const prefix = "WASMGATE"

type Config struct {
	// MaxPages bounds the memory a guest may declare, in 64KB pages.
	MaxPages uint32        `split_words:"true" default:"64"`
	Timeout  time.Duration `split_words:"true" default:"30s"`

	LogLevel string `split_words:"true" default:"warn"`
	LogDev   bool   `split_words:"true" default:"false"`

	Host string `split_words:"true" default:"127.0.0.1"`
	Port int    `split_words:"true" default:"8080"`
}

// Load reads the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.MaxPages == 0 {
		return nil, fmt.Errorf("load config: %s_MAX_PAGES must be positive", prefix)
	}
	return &cfg, nil
}

// Default is the configuration with every variable unset.
func Default() *Config {
	return &Config{
		MaxPages: 64,
		Timeout:  30 * time.Second,
		LogLevel: "warn",
		Host:     "127.0.0.1",
		Port:     8080,
	}
}

// Addr is the listen address for serve.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
