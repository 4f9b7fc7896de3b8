package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete hos tool configuration.
//
// This structure captures the configurable aspects of the command-line
// tools: logging, container access defaults, archive transport, and
// metrics.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (HOS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Store contains container access defaults
	Store StoreConfig `mapstructure:"store"`

	// Archive configures the S3 archive transport
	Archive ArchiveConfig `mapstructure:"archive"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// StoreConfig contains container access defaults.
type StoreConfig struct {
	// Kind is the backend used when creating containers
	// Valid values: file, badger, memory
	Kind string `mapstructure:"kind" validate:"required,oneof=file badger memory"`

	// LockTimeout bounds how long an open waits for the inter-process lock
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"required,gt=0"`
}

// ArchiveConfig configures the S3 archive transport.
//
// Endpoint and static credentials are optional; when absent the default
// AWS credential chain and endpoints apply. Bucket is only required by
// commands that actually push or pull archives.
type ArchiveConfig struct {
	// Bucket is the S3 bucket holding container archives
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region
	Region string `mapstructure:"region"`

	// Endpoint is a custom S3 endpoint (MinIO, Localstack, Cubbit DS3)
	Endpoint string `mapstructure:"endpoint"`

	// KeyPrefix is an optional prefix for all archive keys
	KeyPrefix string `mapstructure:"key_prefix"`

	// AccessKeyID and SecretAccessKey are optional static credentials
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries bounds S3 request retries (default 10)
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on per-operation metrics collection
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HOS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the HOS_ prefix and underscores
	// Example: HOS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("HOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/hos/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable - defaults apply
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicitly named file that does not exist also falls back
		// to defaults
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hos")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hos")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
