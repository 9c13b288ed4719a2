package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-archive/internal/registry/route"
)

// Pinger reports whether a dependency can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	ready    atomic.Bool
	datastore atomic.Pointer[Pinger]
)

// MarkReady signals that the service has finished initializing and is ready to
// serve traffic. Call this once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips readiness back, e.g. while draining on shutdown.
func MarkNotReady() {
	ready.Store(false)
}

// WatchStore makes /ready also require a successful store ping.
func WatchStore(p Pinger) {
	datastore.Store(&p)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(_ context.Context, r gin.IRouter) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialized and the datastore answers
			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				if p := datastore.Load(); p != nil {
					ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
					defer cancel()
					if err := (*p).Ping(ctx); err != nil {
						c.JSON(http.StatusServiceUnavailable, gin.H{"status": "datastore unavailable", "error": err.Error()})
						return
					}
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})

			// Prometheus metrics
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
