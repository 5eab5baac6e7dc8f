// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Queue    QueueConfig
	Notify   NotifyConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds catalog import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxWaitTime is how long a queued run waits for the import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single import run (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`

	// Encoding is the character encoding of uploaded CSV files (default: iso-8859-1)
	Encoding string `env:"IMPORT_ENCODING" default:"iso-8859-1"`

	// UploadDir holds uploaded files until their run finishes (default: data/uploads)
	UploadDir string `env:"IMPORT_UPLOAD_DIR" default:"data/uploads"`

	// ReportDir holds failure reports for download (default: data/reports)
	ReportDir string `env:"IMPORT_REPORT_DIR" default:"data/reports"`

	// ImageRoot resolves relative image directories named in the file (default: .)
	ImageRoot string `env:"IMPORT_IMAGE_ROOT" default:"."`

	// ReportRetention is how long failure reports are kept (default: 720h)
	ReportRetention time.Duration `env:"IMPORT_REPORT_RETENTION" default:"720h"`

	// JanitorInterval is how often expired reports are purged (default: 1h)
	JanitorInterval time.Duration `env:"IMPORT_JANITOR_INTERVAL" default:"1h"`
}

// QueueConfig holds the optional Redis job queue settings.
// When RedisURL is empty imports run in-process.
type QueueConfig struct {
	// RedisURL is the Redis connection string, e.g. redis://localhost:6379/0
	RedisURL string `env:"QUEUE_REDIS_URL" envAlt:"REDIS_URL"`

	// Key is the Redis list holding pending import IDs (default: catalog_import:queue)
	Key string `env:"QUEUE_KEY" default:"catalog_import:queue"`

	// PollTimeout is the BLPOP timeout per iteration (default: 5s)
	PollTimeout time.Duration `env:"QUEUE_POLL_TIMEOUT" default:"5s"`
}

// Enabled reports whether imports are dispatched through Redis.
func (c *QueueConfig) Enabled() bool {
	return c.RedisURL != ""
}

// NotifyConfig holds import notification settings.
// When KafkaBrokers is empty notifications are written to the log.
type NotifyConfig struct {
	// KafkaBrokers is a comma-separated list of broker addresses
	KafkaBrokers []string `env:"NOTIFY_KAFKA_BROKERS"`

	// KafkaTopic is the topic import notifications are published to (default: catalog-imports)
	KafkaTopic string `env:"NOTIFY_KAFKA_TOPIC" default:"catalog-imports"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
