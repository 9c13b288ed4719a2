package collections

import (
	"context"
	"errors"
	"net/http"

	"github.com/chirino/chat-archive/internal/plugin/route/httperr"
	registryroute "github.com/chirino/chat-archive/internal/registry/route"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(ctx context.Context, r gin.IRouter) error {
			a := service.ArchiveFromContext(ctx)
			if a == nil {
				return registryroute.ErrNotInitialized
			}
			MountRoutes(r, a)
			return nil
		},
	})
}

// MountRoutes mounts the conversation directory and management routes.
func MountRoutes(r gin.IRouter, a *service.Archive) {
	r.GET("/collections", func(c *gin.Context) {
		listCollections(c, a.Query, service.OrderByCount)
	})
	r.GET("/collections/alphabetical", func(c *gin.Context) {
		listCollections(c, a.Query, service.OrderAlphabetical)
	})
	r.GET("/collections/:name", func(c *gin.Context) {
		describe(c, a.Query)
	})
	r.DELETE("/delete/:name", func(c *gin.Context) {
		deleteCollection(c, a.Mutations)
	})
	r.PUT("/rename/:name", func(c *gin.Context) {
		rename(c, a.Mutations)
	})
	r.GET("/photo/:name", func(c *gin.Context) {
		getPhoto(c, a.Query)
	})
	r.PUT("/photo/:name", func(c *gin.Context) {
		setPhoto(c, a.Mutations)
	})
}

func listCollections(c *gin.Context, q *service.QueryService, order service.Order) {
	list, err := q.ListCollections(c.Request.Context(), order)
	if err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func describe(c *gin.Context, q *service.QueryService) {
	info, err := q.Describe(c.Request.Context(), c.Param("name"))
	if err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func deleteCollection(c *gin.Context, m *service.MutationCoordinator) {
	name := c.Param("name")
	if err := m.Delete(c.Request.Context(), name); err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collection deleted", "collectionName": name})
}

func rename(c *gin.Context, m *service.MutationCoordinator) {
	var req struct {
		NewCollectionName string `json:"newCollectionName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "newCollectionName", err)
		return
	}
	name := c.Param("name")
	if err := m.Rename(c.Request.Context(), name, req.NewCollectionName); err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collection renamed from " + name + " to " + req.NewCollectionName})
}

func getPhoto(c *gin.Context, q *service.QueryService) {
	info, err := q.Describe(c.Request.Context(), c.Param("name"))
	if err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isPhotoAvailable": info.IsPhotoAvailable})
}

func setPhoto(c *gin.Context, m *service.MutationCoordinator) {
	var req struct {
		IsPhotoAvailable *bool `json:"isPhotoAvailable"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, "isPhotoAvailable", err)
		return
	}
	if req.IsPhotoAvailable == nil {
		httperr.BadRequest(c, "isPhotoAvailable", errors.New("isPhotoAvailable is required"))
		return
	}
	if err := m.SetPhotoAvailable(c.Request.Context(), c.Param("name"), *req.IsPhotoAvailable); err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo marker updated"})
}
