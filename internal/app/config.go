package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the identity core.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	Email        EmailConfig        `mapstructure:"email"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures process level settings.
type ServerConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Store backends accepted by store.backend.
const (
	StoreBackendMemory   = "memory"
	StoreBackendDatabase = "database"
	StoreBackendRedis    = "redis"
)

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	Token    TokenSettings    `mapstructure:"token"`
	Session  SessionSettings  `mapstructure:"session"`
	Password PasswordSettings `mapstructure:"password"`
}

// TokenSettings configures bearer tokens.
type TokenSettings struct {
	Issuer        string        `mapstructure:"issuer"`
	TTL           time.Duration `mapstructure:"ttl"`
	Leeway        time.Duration `mapstructure:"leeway"`
	SigningMethod string        `mapstructure:"signing_method"`
	KeyFile       string        `mapstructure:"key_file"`
}

// SessionSettings configures refresh sessions.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	RefreshLength int           `mapstructure:"refresh_length"`
}

// PasswordSettings configures the Argon2 password hasher.
type PasswordSettings struct {
	Algorithm   string `mapstructure:"algorithm"`
	Version     uint32 `mapstructure:"version"`
	Memory      uint32 `mapstructure:"memory"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
	// Pepper accepts hex, base64 or a $NAME environment reference.
	Pepper string `mapstructure:"pepper"`
}

// VerificationConfig configures contact verification challenges.
type VerificationConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	CodeLength     int           `mapstructure:"code_length"`
	CodeAlphabet   string        `mapstructure:"code_alphabet"`
	BaseURL        string        `mapstructure:"base_url"`
	ProductName    string        `mapstructure:"product_name"`
	ReaperEnabled  bool          `mapstructure:"reaper_enabled"`
	ReaperSchedule string        `mapstructure:"reaper_schedule"`
	// ReaperRetention is how long expired or consumed challenges and ended sessions are kept.
	ReaperRetention time.Duration `mapstructure:"reaper_retention"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	return load(v)
}

// LoadConfigFile reads configuration from an explicit file path.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("IDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.metrics_addr", ":9090")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/idcore.sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("store.backend", StoreBackendMemory)
	v.SetDefault("store.key_prefix", "idcore")

	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.token.issuer", "idcore")
	v.SetDefault("auth.token.ttl", "15m")
	v.SetDefault("auth.token.leeway", "0s")
	v.SetDefault("auth.token.signing_method", "EdDSA")
	v.SetDefault("auth.token.key_file", "./data/token.key")

	v.SetDefault("auth.session.refresh_ttl", "720h")
	v.SetDefault("auth.session.refresh_length", 32)

	v.SetDefault("auth.password.algorithm", "argon2id")
	v.SetDefault("auth.password.version", 19)
	v.SetDefault("auth.password.memory", 64*1024)
	v.SetDefault("auth.password.time", 3)
	v.SetDefault("auth.password.parallelism", 2)
	v.SetDefault("auth.password.salt_length", 16)
	v.SetDefault("auth.password.key_length", 32)
	v.SetDefault("auth.password.pepper", "")

	v.SetDefault("verification.ttl", "24h")
	v.SetDefault("verification.code_length", 6)
	v.SetDefault("verification.code_alphabet", "0123456789")
	v.SetDefault("verification.base_url", "")
	v.SetDefault("verification.product_name", "idcore")
	v.SetDefault("verification.reaper_enabled", true)
	v.SetDefault("verification.reaper_schedule", "@hourly")
	v.SetDefault("verification.reaper_retention", "168h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
