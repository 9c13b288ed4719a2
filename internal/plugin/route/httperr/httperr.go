// Package httperr maps archive errors to HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-archive/internal/archive"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"
)

// Handle writes the JSON error body and status for err.
func Handle(c *gin.Context, err error) {
	var (
		decode      *archive.DecodeError
		malformed   *archive.MalformedArchiveError
		validation  *registrystore.ValidationError
		notFound    *registrystore.NotFoundError
		conflict    *registrystore.ConflictError
		partial     *service.PartialUploadError
		unavailable *registrystore.UnavailableError
	)

	switch {
	case errors.As(err, &partial):
		log.Error("Partial upload", "collection", partial.Collection, "err", partial.Err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":           "partial_upload",
			"error":          err.Error(),
			"collectionName": partial.Collection,
			"inserted":       partial.Inserted,
		})
	case errors.As(err, &decode):
		c.JSON(http.StatusBadRequest, gin.H{"code": "decode_error", "error": err.Error(), "file": decode.Fragment, "offset": decode.Offset})
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadRequest, gin.H{"code": "malformed_archive", "error": err.Error(), "file": malformed.Fragment})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &conflict):
		code := conflict.Code
		if code == "" {
			code = "conflict"
		}
		body := gin.H{"code": code, "error": err.Error()}
		for k, v := range conflict.Details {
			body[k] = v
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &unavailable):
		log.Warn("Store unavailable", "path", c.FullPath(), "err", err)
		if unavailable.Timeout {
			c.JSON(http.StatusGatewayTimeout, gin.H{"code": "store_timeout", "error": "datastore did not answer in time"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": "datastore unavailable"})
		}
	default:
		log.Error("Request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"})
	}
}

// BadRequest reports a request body or parameter that could not be parsed.
func BadRequest(c *gin.Context, field string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": field})
}
