// Package monitoring holds the Prometheus metrics and HTTP access logging of the service.
package monitoring

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency records archive store operation latency.
	StoreLatency *prometheus.HistogramVec

	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec
	cacheSizeBytes      *prometheus.GaugeVec

	uploadsTotal *prometheus.CounterVec

	backfilledMessagesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_archive_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_archive_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_archive_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheHitsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_archive_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache"})

	cacheMissesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_archive_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache"})

	cacheEvictionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_archive_cache_evictions_total",
		Help: "Cache entries removed by the size budget or TTL",
	}, []string{"cache", "reason"})

	cacheSizeBytes = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_archive_cache_size_bytes",
		Help: "Bytes currently held by the cache",
	}, []string{"cache"})

	uploadsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_archive_uploads_total",
		Help: "Conversation uploads by outcome",
	}, []string{"outcome"})

	backfilledMessagesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_archive_backfilled_messages_total",
		Help: "Messages given sanitized content by the backfill",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_archive_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_archive_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// CacheHit counts a hit in the named cache.
func CacheHit(cache string) {
	if cacheHitsTotal != nil {
		cacheHitsTotal.WithLabelValues(cache).Inc()
	}
}

// CacheMiss counts a miss in the named cache.
func CacheMiss(cache string) {
	if cacheMissesTotal != nil {
		cacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// CacheEvicted counts entries dropped for reason ("size" or "expired").
func CacheEvicted(cache, reason string, n int) {
	if cacheEvictionsTotal != nil && n > 0 {
		cacheEvictionsTotal.WithLabelValues(cache, reason).Add(float64(n))
	}
}

// CacheSize publishes the current byte size of the named cache.
func CacheSize(cache string, bytes int64) {
	if cacheSizeBytes != nil {
		cacheSizeBytes.WithLabelValues(cache).Set(float64(bytes))
	}
}

// Upload counts an upload by outcome ("ok", "malformed", "conflict", "partial", "error").
func Upload(outcome string) {
	if uploadsTotal != nil {
		uploadsTotal.WithLabelValues(outcome).Inc()
	}
}

// Backfilled counts messages that were given sanitized content.
func Backfilled(n int) {
	if backfilledMessagesTotal != nil && n > 0 {
		backfilledMessagesTotal.Add(float64(n))
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
