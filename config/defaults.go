package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// Session
	v.SetDefault("session.max_expiry_minutes", 240)
	v.SetDefault("session.default_expiry_minutes", 30)
	v.SetDefault("session.extend_minutes", 30)
	v.SetDefault("session.idle_timeout_minutes", 15)
	v.SetDefault("session.check_interval_seconds", 30)
	v.SetDefault("session.salt_size_bytes", 16)
	v.SetDefault("session.iv_size_bytes", 12)
	v.SetDefault("session.use_transient_storage", false)
	v.SetDefault("session.data_key", "session-data")
	v.SetDefault("session.metadata_key", "session-metadata")

	// Storage
	v.SetDefault("storage.driver", DriverBbolt)
	v.SetDefault("storage.path", "./data/sessions.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.namespace", "default")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "sessionvault:")

	v.SetDefault("kdf.profile", "moderate")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("server.port", 8443)
	v.SetDefault("identity.path", "./data/identity.json")
}
