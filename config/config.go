// Package config loads sessionvault settings from a YAML file, SESSIONVAULT_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SESSIONVAULT"

type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	KDF      KDFConfig      `mapstructure:"kdf"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Identity IdentityConfig `mapstructure:"identity"`
}

type SessionConfig struct {
	MaxExpiryMinutes     int    `mapstructure:"max_expiry_minutes"`
	DefaultExpiryMinutes int    `mapstructure:"default_expiry_minutes"`
	ExtendMinutes        int    `mapstructure:"extend_minutes"`
	IdleTimeoutMinutes   int    `mapstructure:"idle_timeout_minutes"`
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
	SaltSizeBytes        int    `mapstructure:"salt_size_bytes"`
	IVSizeBytes          int    `mapstructure:"iv_size_bytes"`
	UseTransientStorage  bool   `mapstructure:"use_transient_storage"`
	DataKey              string `mapstructure:"data_key"`
	MetadataKey          string `mapstructure:"metadata_key"`
}

// IdleTimeout is the idle period before an unlocked session locks.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// CheckInterval is how often the server runs the timeout check.
func (s SessionConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	Namespace     string `mapstructure:"namespace"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type KDFConfig struct {
	Profile string `mapstructure:"profile"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type IdentityConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration. An empty path searches ./sessionvault.yaml and
// ./configs/sessionvault.yaml; a missing search-path file is not an error,
// but an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sessionvault")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
