package search

import (
	"context"
	"net/http"

	"github.com/chirino/chat-archive/internal/plugin/route/httperr"
	registryroute "github.com/chirino/chat-archive/internal/registry/route"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(ctx context.Context, r gin.IRouter) error {
			a := service.ArchiveFromContext(ctx)
			if a == nil {
				return registryroute.ErrNotInitialized
			}
			MountRoutes(r, a.Search)
			return nil
		},
	})
}

// MountRoutes mounts the cross-conversation search route.
func MountRoutes(r gin.IRouter, s *service.SearchService) {
	r.POST("/search", func(c *gin.Context) {
		var req struct {
			Query string `json:"query"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "query", err)
			return
		}
		hits, err := s.Search(c.Request.Context(), req.Query)
		if err != nil {
			httperr.Handle(c, err)
			return
		}
		c.JSON(http.StatusOK, hits)
	})
}
