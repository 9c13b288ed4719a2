package messages

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
		Order: 110,
		Loader: func(ctx context.Context, r gin.IRouter) error {
			a := service.ArchiveFromContext(ctx)
			if a == nil {
				return registryroute.ErrNotInitialized
			}
			MountRoutes(r, a.Query)
			return nil
		},
	})
}

// MountRoutes mounts the message listing route.
func MountRoutes(r gin.IRouter, q *service.QueryService) {
	r.GET("/messages/:name", func(c *gin.Context) {
		data, err := q.GetMessagesJSON(c.Request.Context(), c.Param("name"), c.Query("fromDate"), c.Query("toDate"))
		if err != nil {
			httperr.Handle(c, err)
			return
		}
		// Cached bytes are already JSON.
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	})
}
