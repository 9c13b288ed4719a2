package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("POD_NAME", "archive-0")

	labels, err := ParseMetricsLabels("service=chat-archive,pod=${POD_NAME}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "chat-archive", "pod": "archive-0"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("novalue")
	require.Error(t, err)

	_, err = ParseMetricsLabels("1bad=x")
	require.Error(t, err)
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	require.NotPanics(t, func() {
		CacheHit("memory")
		CacheMiss("memory")
		CacheEvicted("memory", "size", 2)
		CacheSize("memory", 10)
		Upload("ok")
		Backfilled(3)
	})
}

func TestAccessLogMiddleware_AssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessLogMiddleware("/health"))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
