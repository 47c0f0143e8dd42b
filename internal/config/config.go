// Package config provides centralized configuration management for the
// importer. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Media    MediaConfig
	Storage  StorageConfig
	Schema   SchemaConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080" validate:"min=1,max=65535"`

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

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// Driver selects the backend: postgres, sqlite or memory (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite memory"`

	// URL is the PostgreSQL connection string or SQLite file path.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds import session settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted spreadsheet size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel background runs (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of records inserted per batch (default: 5)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"5"`

	// Timeout bounds a single background run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// SessionTTL is how long an idle session is kept (default: 2h)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"2h"`

	// SweepInterval is how often expired sessions are removed (default: 5m)
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" default:"5m"`

	// ResultRetention is how long a finished run stays queryable (default: 5m)
	ResultRetention time.Duration `env:"IMPORT_RESULT_RETENTION" default:"5m"`

	// SynthesizeMissingNames offers brand+model names for rows without one (default: true)
	SynthesizeMissingNames bool `env:"IMPORT_SYNTHESIZE_NAMES" default:"true"`

	// DisallowedColumns are stripped from every row before insert
	DisallowedColumns []string `env:"IMPORT_DISALLOWED_COLUMNS"`
}

// MediaConfig holds image resolution settings.
type MediaConfig struct {
	// Enabled turns on the media pipeline (default: true)
	Enabled bool `env:"MEDIA_ENABLED" default:"true"`

	// Concurrency is the number of images resolved in parallel (default: 3)
	Concurrency int `env:"MEDIA_CONCURRENCY" default:"3"`

	// FetchTimeout bounds a single image download (default: 20s)
	FetchTimeout time.Duration `env:"MEDIA_FETCH_TIMEOUT" default:"20s"`

	// MaxImageBytes is the largest accepted image (default: 15MB)
	MaxImageBytes int64 `env:"MEDIA_MAX_IMAGE_BYTES" default:"15728640"`

	// Relays are comma-separated URL templates containing {url}
	Relays []string `env:"MEDIA_RELAYS"`

	// PlaceholderEnabled adds the placeholder strategy (default: false)
	PlaceholderEnabled bool `env:"MEDIA_PLACEHOLDER_ENABLED" default:"false"`

	// PlaceholderURL is a URL template containing {id}
	PlaceholderURL string `env:"MEDIA_PLACEHOLDER_URL" default:"https://picsum.photos/seed/{id}/800/600"`

	// ContentAPIDomains are first-party hosts resolved through the content API
	ContentAPIDomains []string `env:"MEDIA_CONTENT_API_DOMAINS" validate:"dive,hostname"`

	// ContentAPIPath is the media search endpoint path (default: /wp-json/wp/v2/media)
	ContentAPIPath string `env:"MEDIA_CONTENT_API_PATH" default:"/wp-json/wp/v2/media"`

	// ContentAPIRPS throttles content API lookups (default: 2)
	ContentAPIRPS float64 `env:"MEDIA_CONTENT_API_RPS" default:"2"`

	// PathPrefix is the entity segment of stored object paths (default: equipment)
	PathPrefix string `env:"MEDIA_PATH_PREFIX" default:"equipment"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	// Dir is the root directory for stored images (default: ./data/objects)
	Dir string `env:"STORAGE_DIR" default:"./data/objects"`

	// PublicBaseURL prefixes the paths returned for stored objects
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" default:"http://localhost:8080/objects" validate:"omitempty,url"`
}

// SchemaConfig holds target schema settings.
type SchemaConfig struct {
	// File is an optional YAML schema overriding the built-in equipment schema
	File string `env:"SCHEMA_FILE"`
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
	TrustedProxies []string `env:"TRUSTED_PROXIES" validate:"dive,cidr|ip"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
