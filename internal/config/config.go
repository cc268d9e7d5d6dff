package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Security    SecurityConfig    `mapstructure:"security"`
	Google      GoogleConfig      `mapstructure:"google"`
	Credential  CredentialConfig  `mapstructure:"credential"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds API security configuration
type SecurityConfig struct {
	// JWTSecret verifies HS256 bearer tokens issued by the login service.
	JWTSecret    string             `mapstructure:"jwt_secret"`
	JWTIssuer    string             `mapstructure:"jwt_issuer"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds HTTP rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// GoogleConfig holds the OAuth client used to refresh Gmail tokens
type GoogleConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	// TokenURL overrides the Google token endpoint (tests, proxies).
	TokenURL string `mapstructure:"token_url"`
	// APIEndpoint overrides the Gmail API base URL.
	APIEndpoint string `mapstructure:"api_endpoint"`
}

// CredentialConfig holds OAuth credential handling configuration
type CredentialConfig struct {
	// SafetyMargin is how long before expiry an access token is refreshed.
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	// EncryptionKey is a hex encoded 32-byte key used to seal stored tokens.
	// Tokens are stored in plaintext when empty.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// Key decodes the token encryption key
func (c CredentialConfig) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid credential encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// QuotaConfig holds the daily send ceiling configuration
type QuotaConfig struct {
	// Backend is "redis" or "memory".
	Backend    string `mapstructure:"backend"`
	DailyLimit int    `mapstructure:"daily_limit"`
}

// DispatchConfig holds dispatch loop configuration
type DispatchConfig struct {
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	DelayMinSeconds int           `mapstructure:"delay_min_seconds"`
	DelayMaxSeconds int           `mapstructure:"delay_max_seconds"`
	SenderName      string        `mapstructure:"sender_name"`
	// ResumeSchedule is a cron spec (UTC) for resuming campaigns with pending
	// recipients. Empty disables the scheduler.
	ResumeSchedule string `mapstructure:"resume_schedule"`
	// LockTTL is the campaign lock expiry; a running campaign renews it.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// AttachmentsConfig holds attachment storage configuration
type AttachmentsConfig struct {
	// Backend is "local" or "s3".
	Backend string   `mapstructure:"backend"`
	BaseDir string   `mapstructure:"base_dir"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible storage configuration
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mailpilot")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("MAILPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be positive")
	}
	if c.Dispatch.DelayMinSeconds < 0 || c.Dispatch.DelayMaxSeconds < c.Dispatch.DelayMinSeconds {
		return fmt.Errorf("dispatch delay range [%d, %d] is invalid",
			c.Dispatch.DelayMinSeconds, c.Dispatch.DelayMaxSeconds)
	}
	switch c.Quota.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown quota backend %q", c.Quota.Backend)
	}
	switch c.Attachments.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown attachments backend %q", c.Attachments.Backend)
	}
	if _, err := c.Credential.Key(); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailpilot")
	v.SetDefault("database.user", "mailpilot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "")
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 60)
	v.SetDefault("security.rate_limiting.default_window", "1m")

	// Google defaults
	v.SetDefault("google.scopes", []string{"https://www.googleapis.com/auth/gmail.send"})

	// Credential defaults
	v.SetDefault("credential.safety_margin", "60s")
	v.SetDefault("credential.encryption_key", "")

	// Quota defaults
	v.SetDefault("quota.backend", "redis")
	v.SetDefault("quota.daily_limit", 500)

	// Dispatch defaults
	v.SetDefault("dispatch.send_timeout", "30s")
	v.SetDefault("dispatch.delay_min_seconds", 30)
	v.SetDefault("dispatch.delay_max_seconds", 90)
	v.SetDefault("dispatch.sender_name", "")
	v.SetDefault("dispatch.resume_schedule", "5 0 * * *")
	v.SetDefault("dispatch.lock_ttl", "5m")

	// Attachment defaults
	v.SetDefault("attachments.backend", "local")
	v.SetDefault("attachments.base_dir", "./uploads")
	v.SetDefault("attachments.s3.region", "us-east-1")
}
