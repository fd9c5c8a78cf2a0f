// Package config loads cookielens configuration from defaults, an optional
// YAML file, and COOKIELENS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COOKIELENS"

// DefaultQuotaBytes is the browser extension storage.local quota.
const DefaultQuotaBytes int64 = 10485760

// Config holds all application configuration.
type Config struct {
	DataDir    string        `yaml:"data_dir" envconfig:"DATA_DIR"`
	QuotaBytes int64         `yaml:"quota_bytes" envconfig:"QUOTA_BYTES"`
	Log        LogConfig     `yaml:"log" envconfig:"LOG"`
	Browser    BrowserConfig `yaml:"browser" envconfig:"BROWSER"`
	Server     ServerConfig  `yaml:"server" envconfig:"SERVER"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// BrowserConfig holds live capture and crawl configuration.
type BrowserConfig struct {
	// ControlURL is the DevTools websocket of a running browser. Empty
	// launches a new one.
	ControlURL        string        `yaml:"control_url" envconfig:"CONTROL_URL"`
	Headless          bool          `yaml:"headless" envconfig:"HEADLESS"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" envconfig:"NAVIGATION_TIMEOUT"`
	PollInterval      time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	Concurrency       int           `yaml:"concurrency" envconfig:"CONCURRENCY"`
}

// ServerConfig holds the websocket and metrics server configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		QuotaBytes: DefaultQuotaBytes,
		Log: LogConfig{
			Level: "info",
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
			PollInterval:      2 * time.Second,
			Concurrency:       4,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:7878",
		},
	}
}

// Load builds configuration from defaults, the YAML file at path (skipped
// when path is empty), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.QuotaBytes <= 0 {
		errs = append(errs, fmt.Errorf("quota_bytes must be positive, got %d", c.QuotaBytes))
	}
	if c.Browser.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("browser.concurrency must be at least 1, got %d", c.Browser.Concurrency))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("browser.navigation_timeout must be positive"))
	}
	if c.Browser.PollInterval <= 0 {
		errs = append(errs, errors.New("browser.poll_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ResolveDataDir returns the data directory, defaulting to
// ~/.config/cookielens.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cookielens"), nil
}
