// Package config loads the client-side configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration, read from an optional YAML file.
// Every field has a sensible default; the file only overrides.
type Config struct {
	ServerURL string `yaml:"server_url"`
	UserID    string `yaml:"user_id"`
	DataDir   string `yaml:"data_dir"`
	// ReconcilePolicy picks the display side for load-time conflicts:
	// "local" or "server".
	ReconcilePolicy string `yaml:"reconcile_policy"`
	// Autosave tuning
	DebounceMs  int `yaml:"debounce_ms"`
	MaxDelta    int `yaml:"max_delta"`
	MaxAttempts int `yaml:"max_attempts"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerURL:       "http://localhost:8080",
		ReconcilePolicy: "local",
		DataDir:         defaultDataDir(),
		DebounceMs:      5000,
		MaxDelta:        500,
		MaxAttempts:     3,
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(configDir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "draftsync")
	}
	return "."
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "draftsync")
	}
	return "."
}
