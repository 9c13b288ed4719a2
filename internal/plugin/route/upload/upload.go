package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/chirino/chat-archive/internal/archive"
	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/route/httperr"
	registryroute "github.com/chirino/chat-archive/internal/registry/route"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"
)

// FormField is the multipart field carrying the export files.
const FormField = "files"

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 130,
		Loader: func(ctx context.Context, r gin.IRouter) error {
			a := service.ArchiveFromContext(ctx)
			cfg := config.FromContext(ctx)
			if a == nil || cfg == nil {
				return registryroute.ErrNotInitialized
			}
			MountRoutes(r, a.Mutations, cfg)
			return nil
		},
	})
}

// MountRoutes mounts the archive upload route.
func MountRoutes(r gin.IRouter, m *service.MutationCoordinator, cfg *config.Config) {
	r.POST("/upload", func(c *gin.Context) {
		uploadArchive(c, m, cfg)
	})
}

func uploadArchive(c *gin.Context, m *service.MutationCoordinator, cfg *config.Config) {
	if cfg.MaxBodySize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodySize)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "too_large", "error": fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		httperr.BadRequest(c, FormField, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	files := form.File[FormField]
	if len(files) == 0 {
		httperr.BadRequest(c, FormField, errors.New("no files uploaded"))
		return
	}
	if cfg.MaxUploadFiles > 0 && len(files) > cfg.MaxUploadFiles {
		httperr.BadRequest(c, FormField, fmt.Errorf("too many files: %d (max %d)", len(files), cfg.MaxUploadFiles))
		return
	}

	fragments := make([]archive.Fragment, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			httperr.BadRequest(c, FormField, fmt.Errorf("read %s: %w", fh.Filename, err))
			return
		}
		fragments = append(fragments, archive.Fragment{Name: fh.Filename, Data: data})
	}

	res, err := m.Ingest(c.Request.Context(), fragments)
	if err != nil {
		httperr.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":        "Upload stored",
		"collectionName": res.CollectionName,
		"messageCount":   res.MessageCount,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
