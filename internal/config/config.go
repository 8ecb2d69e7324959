package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Security   SecurityConfig   `mapstructure:"security"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Deletion   DeletionConfig   `mapstructure:"deletion"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MongoURI       string `mapstructure:"mongo_uri"`
	Database       string `mapstructure:"database"`
	MaxPoolSize    int    `mapstructure:"max_pool_size"`
	ArchiveBucket  string `mapstructure:"archive_bucket"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTIssuer      string        `mapstructure:"jwt_issuer"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// EncryptionConfig carries the PII field-encryption keys as 64 hex chars each.
// Passphrase and Salt (hex) derive whichever key is left empty.
type EncryptionConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	PreviousKey   string `mapstructure:"previous_key"`
	KeyVersion    int    `mapstructure:"key_version"`
	HMACKey       string `mapstructure:"hmac_key"`
	Passphrase    string `mapstructure:"passphrase"`
	Salt          string `mapstructure:"salt"`
}

type RetentionConfig struct {
	ActiveRetentionDays  int           `mapstructure:"active_retention_days"`
	ArchiveRetentionDays int           `mapstructure:"archive_retention_days"`
	ArchiveBatchSize     int           `mapstructure:"archive_batch_size"`
	CompressArchive      bool          `mapstructure:"compress_archive"`
	ArchiveInterval      time.Duration `mapstructure:"archive_interval"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	SchedulerEnabled     bool          `mapstructure:"scheduler_enabled"`
}

type DeletionConfig struct {
	PolicyFile string        `mapstructure:"policy_file"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load loads configuration from an optional config file and COMPLIANCE_* environment variables
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads configuration through the given viper instance
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/compliance-core/")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("database.database", "compliance_core")
	v.SetDefault("database.max_pool_size", 100)
	v.SetDefault("database.archive_bucket", "audit_archives")
	v.SetDefault("database.connect_timeout", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "compliance-core")
	v.SetDefault("security.token_ttl", time.Hour)
	v.SetDefault("security.allowed_origins", []string{})

	v.SetDefault("encryption.encryption_key", "")
	v.SetDefault("encryption.previous_key", "")
	v.SetDefault("encryption.key_version", 1)
	v.SetDefault("encryption.hmac_key", "")
	v.SetDefault("encryption.passphrase", "")
	v.SetDefault("encryption.salt", "")

	v.SetDefault("retention.active_retention_days", 730)
	v.SetDefault("retention.archive_retention_days", 1825)
	v.SetDefault("retention.archive_batch_size", 10000)
	v.SetDefault("retention.compress_archive", true)
	v.SetDefault("retention.archive_interval", 24*time.Hour)
	v.SetDefault("retention.cleanup_interval", 24*time.Hour)
	v.SetDefault("retention.scheduler_enabled", false)

	v.SetDefault("deletion.policy_file", "")
	v.SetDefault("deletion.lock_ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

func (c *Config) validate() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("COMPLIANCE_SECURITY_JWT_SECRET is required")
	}
	if c.Encryption.Passphrase == "" {
		if c.Encryption.EncryptionKey == "" {
			return fmt.Errorf("COMPLIANCE_ENCRYPTION_ENCRYPTION_KEY is required")
		}
		if c.Encryption.HMACKey == "" {
			return fmt.Errorf("COMPLIANCE_ENCRYPTION_HMAC_KEY is required")
		}
	} else if c.Encryption.Salt == "" {
		return fmt.Errorf("COMPLIANCE_ENCRYPTION_SALT is required with a passphrase")
	}
	if c.Encryption.KeyVersion < 1 {
		return fmt.Errorf("encryption key version must be at least 1")
	}
	if c.Retention.ActiveRetentionDays <= 0 || c.Retention.ArchiveRetentionDays <= 0 || c.Retention.ArchiveBatchSize <= 0 {
		return fmt.Errorf("retention values must be positive")
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// Addr returns the redis host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}
