// Package config provides configuration management for recarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultHTTPTimeout     = 60 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 1 * time.Second
	defaultRetryMaxDelay   = 1500 * time.Millisecond
)

// Config holds all configuration for the application.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Download DownloadConfig `mapstructure:"download"`
}

// StorageConfig holds segment blob storage configuration.
type StorageConfig struct {
	// BaseDir is the root data directory. The segment store and the
	// catalog database both live under it by default.
	BaseDir string `mapstructure:"base_dir"`

	// SegmentDir is the subdirectory holding the segment blob store.
	SegmentDir string `mapstructure:"segment_dir"`

	// InMemory runs the segment store without disk persistence. Intended
	// for tests only; recordings do not survive a restart.
	InMemory bool `mapstructure:"in_memory"`
}

// DatabaseConfig holds recording catalog database configuration.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DownloadConfig holds per-track segment download configuration.
type DownloadConfig struct {
	// HTTPTimeout is the overall timeout for one segment request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// RetryAttempts bounds how often a failed segment is re-attempted
	// before it is marked failed and the track moves on.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryDelay is the wait before re-attempting a stalled segment.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// RetryMaxDelay caps the retry delay.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with RECARR_ and use underscores for
// nesting. Example: RECARR_STORAGE_BASE_DIR=/var/lib/recarr.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/recarr")
		v.AddConfigPath("$HOME/.recarr")
	}

	v.SetEnvPrefix("RECARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.segment_dir", "segments")
	v.SetDefault("storage.in_memory", false)

	// Database defaults
	v.SetDefault("database.dsn", "recarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Download defaults
	v.SetDefault("download.http_timeout", defaultHTTPTimeout)
	v.SetDefault("download.retry_attempts", defaultRetryAttempts)
	v.SetDefault("download.retry_delay", defaultRetryDelay)
	v.SetDefault("download.retry_max_delay", defaultRetryMaxDelay)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Download.RetryAttempts < 0 {
		return fmt.Errorf("download.retry_attempts must not be negative")
	}
	if c.Download.RetryDelay <= 0 {
		return fmt.Errorf("download.retry_delay must be positive")
	}

	return nil
}

// SegmentPath returns the full path to the segment blob store directory.
func (c *StorageConfig) SegmentPath() string {
	return filepath.Join(c.BaseDir, c.SegmentDir)
}
