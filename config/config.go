/*
Package config loads the daemon configuration.

The file is TOML; every field has a working default so the daemon runs
with no file at all. Example:

	[api]
	host = "127.0.0.1"
	port = 8090

	[database]
	path = "./clinic.db"
	busy_timeout_ms = 5000

	[metrics]
	enabled = true
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration tree.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		API:      APIConfig{Host: "127.0.0.1", Port: 8090},
		Database: DatabaseConfig{Path: "./clinic.db", BusyTimeoutMS: 5000},
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// Load reads path over the defaults. An empty path returns the defaults;
// a missing file is an error (a misspelled --config should not silently
// fall back).
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path required")
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
