package config

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the chat archive service.
type Config struct {
	// Datastore backend type: "mongo", "postgres" or "sqlite".
	DatastoreType string

	// DBURL is the connection string of the datastore. For sqlite it is a file path or DSN.
	DBURL string

	// DBName is the mongo database holding one collection per conversation.
	DBName string

	// Create indexes / tables on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// StoreTimeout bounds every single store operation. Zero disables the bound.
	StoreTimeout time.Duration

	// Cache backend type: "memory", "ristretto", "redis", "infinispan" or "none".
	CacheType string

	// CacheMaxBytes is the byte budget of the in-process caches. Remote caches
	// ignore it and evict by their own server-side policy.
	CacheMaxBytes int64

	// CacheTTL is the maximum lifetime of a cached entry.
	CacheTTL time.Duration

	// Redis
	RedisURL string

	// Infinispan (RESP protocol, connects via go-redis under the covers)
	InfinispanHost           string // host:port (e.g. "localhost:11222")
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// SearchConcurrency bounds how many conversations are scanned in parallel.
	SearchConcurrency int

	// Sanitized-content backfill.
	BackfillBatchSize int
	// BackfillInterval between background passes. Zero runs only the startup pass.
	BackfillInterval time.Duration

	// Upload limits.
	MaxUploadFiles int
	MaxBodySize    int64

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-archive".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CHAT_ARCHIVE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:            "mongo",
		DBURL:                    "mongodb://localhost:27017",
		DBName:                   "messages",
		DatastoreMigrateAtStart:  true,
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		StoreTimeout:             30 * time.Second,
		CacheType:                "memory",
		CacheMaxBytes:            64 * 1024 * 1024,
		CacheTTL:                 10 * time.Minute,
		InfinispanStartupTimeout: 30 * time.Second,
		SearchConcurrency:        8,
		BackfillBatchSize:        500,
		BackfillInterval:         time.Hour,
		MaxUploadFiles:           64,
		MaxBodySize:              256 * 1024 * 1024,
		MetricsLabels:            "service=chat-archive",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		CORSEnabled:  true,
		CORSOrigins:  "*",
		DrainTimeout: 30,
	}
}

var (
	datastoreTypes = []string{"mongo", "postgres", "sqlite"}
	cacheTypes     = []string{"memory", "ristretto", "redis", "infinispan", "none"}
)

// CacheBudgeted reports whether CacheMaxBytes bounds the configured cache.
func (c *Config) CacheBudgeted() bool {
	return c.CacheType == "memory" || c.CacheType == "ristretto"
}

// Validate checks the settings that cannot be corrected later at runtime.
func (c *Config) Validate() error {
	if !slices.Contains(datastoreTypes, c.DatastoreType) {
		return fmt.Errorf("unsupported db kind %q (want one of %v)", c.DatastoreType, datastoreTypes)
	}
	if !slices.Contains(cacheTypes, c.CacheType) {
		return fmt.Errorf("unsupported cache kind %q (want one of %v)", c.CacheType, cacheTypes)
	}
	if c.DatastoreType == "mongo" && c.DBName == "" {
		return fmt.Errorf("db name is required for the mongo datastore")
	}
	if c.CacheBudgeted() && c.CacheMaxBytes <= 0 {
		return fmt.Errorf("cache max bytes must be positive, got %d", c.CacheMaxBytes)
	}
	if c.CacheType != "none" && c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.CacheTTL)
	}
	if c.CacheType == "redis" && c.RedisURL == "" {
		return fmt.Errorf("redis url is required for the redis cache")
	}
	if c.CacheType == "infinispan" && c.InfinispanHost == "" {
		return fmt.Errorf("infinispan host is required for the infinispan cache")
	}
	if c.SearchConcurrency < 1 {
		return fmt.Errorf("search concurrency must be at least 1, got %d", c.SearchConcurrency)
	}
	if c.BackfillBatchSize < 1 {
		return fmt.Errorf("backfill batch size must be at least 1, got %d", c.BackfillBatchSize)
	}
	if c.BackfillInterval < 0 || c.StoreTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
