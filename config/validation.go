package config

import (
	"errors"
	"fmt"
	"strings"
)

// Storage drivers.
const (
	DriverBbolt    = "bbolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

func (c *Config) Validate() error {
	s := c.Session
	if s.MaxExpiryMinutes < 1 {
		return errors.New("session.max_expiry_minutes must be at least 1")
	}
	if s.DefaultExpiryMinutes < 1 || s.DefaultExpiryMinutes > s.MaxExpiryMinutes {
		return fmt.Errorf("session.default_expiry_minutes must be between 1 and %d", s.MaxExpiryMinutes)
	}
	if s.ExtendMinutes < 1 {
		return errors.New("session.extend_minutes must be at least 1")
	}
	if s.IdleTimeoutMinutes < 1 {
		return errors.New("session.idle_timeout_minutes must be at least 1")
	}
	if s.CheckIntervalSeconds < 1 {
		return errors.New("session.check_interval_seconds must be at least 1")
	}
	if s.SaltSizeBytes < 16 {
		return errors.New("session.salt_size_bytes must be at least 16")
	}
	if s.IVSizeBytes != 12 {
		return errors.New("session.iv_size_bytes must be 12")
	}
	if s.DataKey == "" || s.MetadataKey == "" || s.DataKey == s.MetadataKey {
		return errors.New("session.data_key and session.metadata_key must be distinct and non-empty")
	}

	if !s.UseTransientStorage {
		switch strings.ToLower(c.Storage.Driver) {
		case DriverBbolt:
			if c.Storage.Path == "" {
				return errors.New("storage.path must be set for the bbolt driver")
			}
		case DriverPostgres:
			if c.Storage.DSN == "" {
				return errors.New("storage.dsn must be set for the postgres driver")
			}
		case DriverRedis:
			if c.Storage.RedisAddr == "" {
				return errors.New("storage.redis_addr must be set for the redis driver")
			}
		default:
			return fmt.Errorf("invalid storage driver: %s. Must be 'bbolt', 'postgres' or 'redis'", c.Storage.Driver)
		}
	}

	switch c.KDF.Profile {
	case "interactive", "moderate", "sensitive":
	default:
		return fmt.Errorf("invalid kdf.profile: %q", c.KDF.Profile)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	return nil
}
