// Package config loads the engine configuration from, in order of
// precedence: environment variables, an optional YAML file, and
// defaults. A .env file in the working directory is loaded first so
// development setups need no exported variables.
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the engine needs to run.
type Config struct {
	// WebDAVURL is the server root the collections are synced against.
	WebDAVURL string `env:"MARKSYNC_WEBDAV_URL" yaml:"webdavUrl"`

	// WebDAVUsername and WebDAVPassword are the basic-auth credentials.
	WebDAVUsername string `env:"MARKSYNC_WEBDAV_USERNAME" yaml:"webdavUsername"`
	WebDAVPassword string `env:"MARKSYNC_WEBDAV_PASSWORD" yaml:"webdavPassword"`

	// BasePath is the remote directory holding the collection files.
	BasePath string `env:"MARKSYNC_BASE_PATH" yaml:"basePath"`

	// DataDir is the local directory holding the dataset files the UI
	// edits. Empty means ~/.marksync/data.
	DataDir string `env:"MARKSYNC_DATA_DIR" yaml:"dataDir"`

	// StatePath is the metadata database location. Empty means
	// ~/.marksync/state.db.
	StatePath string `env:"MARKSYNC_STATE_PATH" yaml:"statePath"`

	// SyncIntervalMinutes is the periodic cycle interval.
	SyncIntervalMinutes int `env:"MARKSYNC_SYNC_INTERVAL_MINUTES" yaml:"syncIntervalMinutes"`

	// RequestTimeout bounds each HTTP request to the remote store.
	RequestTimeout time.Duration `env:"MARKSYNC_REQUEST_TIMEOUT" yaml:"requestTimeout"`

	// RaceTolerance is how far the remote modification time may advance
	// between comparison and upload before the upload yields to the
	// concurrent writer.
	RaceTolerance time.Duration `env:"MARKSYNC_RACE_TOLERANCE" yaml:"raceTolerance"`

	// SyncPassword, when set, encrypts every uploaded payload.
	SyncPassword string `env:"MARKSYNC_SYNC_PASSWORD" yaml:"syncPassword"`

	// DeviceName labels this installation in uploaded packages. Empty
	// means the hostname.
	DeviceName string `env:"MARKSYNC_DEVICE_NAME" yaml:"deviceName"`

	// Environment selects the log format: "production" logs JSON,
	// anything else logs text.
	Environment string `env:"MARKSYNC_ENV" yaml:"environment"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `env:"MARKSYNC_LOG_LEVEL" yaml:"logLevel"`
}

// Load builds the configuration. The YAML file named by MARKSYNC_CONFIG
// is read first, then environment variables override it, then defaults
// fill whatever is still unset. Returns any warnings the caller should
// log once a logger exists.
func Load() (*Config, []string, error) {
	var warnings []string

	if msg := loadDotEnv(); msg != "" {
		warnings = append(warnings, msg)
	}

	cfg := &Config{}

	if path := os.Getenv("MARKSYNC_CONFIG"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	return cfg, warnings, nil
}

// SyncInterval returns the periodic interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

func (c *Config) applyDefaults() error {
	if c.BasePath == "" {
		c.BasePath = "marksync"
	}

	if c.SyncIntervalMinutes == 0 {
		c.SyncIntervalMinutes = 15
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}

	if c.RaceTolerance == 0 {
		c.RaceTolerance = time.Second
	}

	if c.Environment == "" {
		c.Environment = "development"
	}

	if c.DataDir == "" || c.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determining home directory: %w", err)
		}

		if c.DataDir == "" {
			c.DataDir = filepath.Join(home, ".marksync", "data")
		}

		if c.StatePath == "" {
			c.StatePath = filepath.Join(home, ".marksync", "state.db")
		}
	}

	if c.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}

		c.DeviceName = host
	}

	return nil
}

func (c *Config) validate() error {
	if c.WebDAVURL == "" {
		return fmt.Errorf("MARKSYNC_WEBDAV_URL is required")
	}

	if c.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync interval must be positive, got %d", c.SyncIntervalMinutes)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}

	return nil
}

// loadDotEnv loads ./.env when present. The file usually carries the
// WebDAV password, so loose permissions are worth a warning.
func loadDotEnv() string {
	info, err := os.Stat(".env")
	if err != nil {
		return ""
	}

	if perm := info.Mode().Perm(); perm&fs.FileMode(0o077) != 0 {
		_ = godotenv.Load()

		return fmt.Sprintf(".env is readable by other users (mode %04o), consider chmod 600", perm)
	}

	_ = godotenv.Load()

	return ""
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}
