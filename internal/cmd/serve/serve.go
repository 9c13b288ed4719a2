package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/cmd/datastore"
	"github.com/chirino/chat-archive/internal/config"
	registrycache "github.com/chirino/chat-archive/internal/registry/cache"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/chat-archive/internal/plugin/cache/infinispan"
	_ "github.com/chirino/chat-archive/internal/plugin/cache/memory"
	_ "github.com/chirino/chat-archive/internal/plugin/cache/noop"
	_ "github.com/chirino/chat-archive/internal/plugin/cache/redis"
	_ "github.com/chirino/chat-archive/internal/plugin/cache/ristretto"
)

// maxJSONBodySize bounds every request body except archive uploads.
const maxJSONBodySize = 1 << 20

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat archive HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	env := datastore.EnvVar
	out := []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("tls-cert-file")),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("tls-key-file")),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("read-header-timeout-seconds")),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("drain-timeout-seconds")),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("management-access-log")),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("cors")),
			Destination: &cfg.CORSEnabled,
			Value:       cfg.CORSEnabled,
			Usage:       "Answer CORS requests from --cors-origins",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("cors-origins")),
			Destination: &cfg.CORSOrigins,
			Value:       cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins, * for any",
		},
		&cli.IntFlag{
			Name:        "max-upload-files",
			Category:    "Server:",
			Sources:     cli.EnvVars(env("max-upload-files")),
			Destination: &cfg.MaxUploadFiles,
			Value:       cfg.MaxUploadFiles,
			Usage:       "Maximum number of export files in one upload",
		},
		&cli.StringFlag{
			Name:     "max-body-size",
			Category: "Server:",
			Sources:  cli.EnvVars(env("max-body-size")),
			Value:    "256M",
			Usage:    "Maximum upload request size (bytes, or with a K/M/G suffix)",
			Action: func(_ context.Context, _ *cli.Command, v string) error {
				n, err := config.ParseByteSize(v)
				if err != nil {
					return err
				}
				cfg.MaxBodySize = n
				return nil
			},
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars(env("port")),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars(env("plain-text")),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars(env("tls")),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars(env("management-port")),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars(env("management-plain-text")),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars(env("management-tls")),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars(env("cache-kind")),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:     "cache-max-bytes",
			Category: "Cache:",
			Sources:  cli.EnvVars(env("cache-max-bytes")),
			Value:    "64M",
			Usage:    "Byte budget of the memory and ristretto caches (bytes, or with a K/M/G suffix); redis and infinispan ignore it and rely on server-side eviction",
			Action: func(_ context.Context, _ *cli.Command, v string) error {
				n, err := config.ParseByteSize(v)
				if err != nil {
					return err
				}
				cfg.CacheMaxBytes = n
				return nil
			},
		},
		&cli.StringFlag{
			Name:     "cache-ttl",
			Category: "Cache:",
			Sources:  cli.EnvVars(env("cache-ttl")),
			Value:    "10m",
			Usage:    "Lifetime of a cached entry (Go duration or ISO-8601, e.g. PT10M)",
			Action: func(_ context.Context, _ *cli.Command, v string) error {
				d, err := config.ParseDuration(v)
				if err != nil {
					return err
				}
				cfg.CacheTTL = d
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars(env("redis-url")),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Cache:",
			Sources:     cli.EnvVars(env("infinispan-host")),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP host:port (e.g. localhost:11222)",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Cache:",
			Sources:     cli.EnvVars(env("infinispan-username")),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Cache:",
			Sources:     cli.EnvVars(env("infinispan-password")),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},

		// ── Search ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "search-concurrency",
			Category:    "Search:",
			Sources:     cli.EnvVars(env("search-concurrency")),
			Destination: &cfg.SearchConcurrency,
			Value:       cfg.SearchConcurrency,
			Usage:       "Conversations scanned in parallel by one search",
		},
		&cli.IntFlag{
			Name:        "backfill-batch-size",
			Category:    "Search:",
			Sources:     cli.EnvVars(env("backfill-batch-size")),
			Destination: &cfg.BackfillBatchSize,
			Value:       cfg.BackfillBatchSize,
			Usage:       "Messages sanitized per store round trip by the backfill",
		},
		&cli.DurationFlag{
			Name:        "backfill-interval",
			Category:    "Search:",
			Sources:     cli.EnvVars(env("backfill-interval")),
			Destination: &cfg.BackfillInterval,
			Value:       cfg.BackfillInterval,
			Usage:       "Time between background backfill passes (0 runs only the startup pass)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars(env("metrics-labels")),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
	return append(out, datastore.Flags(cfg, "")...)
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUploadRequest(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// isUploadRequest matches archive uploads, which the upload route bounds
// with --max-body-size instead.
func isUploadRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodPost || req.URL.Path != "/upload" {
		return false
	}
	contentType := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
	return strings.HasPrefix(contentType, "multipart/form-data")
}
