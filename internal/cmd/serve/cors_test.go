package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestParseOrigins_DefaultsToWildcard(t *testing.T) {
	origins := parseOrigins("")
	require.True(t, origins["*"])

	origins = parseOrigins(" https://a.example , ,https://b.example")
	require.Len(t, origins, 2)
	require.True(t, origins["https://b.example"])
}

func newCORSRouter(origins string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(origins))
	router.GET("/collections", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestCorsMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	router := newCORSRouter("https://example.com")

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestCorsMiddleware_IgnoresOtherOrigins(t *testing.T) {
	router := newCORSRouter("https://example.com")

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	router := newCORSRouter("*")

	req := httptest.NewRequest(http.MethodOptions, "/rename/jan", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
