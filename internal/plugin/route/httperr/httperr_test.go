package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-archive/internal/archive"
	registrystore "github.com/chirino/chat-archive/internal/registry/store"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	Handle(c, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandle(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"decode", &archive.DecodeError{Fragment: "a.json", Offset: 3, Reason: "bad"}, http.StatusBadRequest, "decode_error"},
		{"malformed", &archive.MalformedArchiveError{Fragment: "a.json", Reason: "no participants"}, http.StatusBadRequest, "malformed_archive"},
		{"validation", &registrystore.ValidationError{Field: "fromDate", Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{"not found", fmt.Errorf("lookup: %w", registrystore.ConversationNotFound("jan")), http.StatusNotFound, "not_found"},
		{"collision", registrystore.NameCollision("jan"), http.StatusConflict, "name_collision"},
		{"conflict", &registrystore.ConflictError{Message: "taken"}, http.StatusConflict, "conflict"},
		{"unavailable", &registrystore.OpError{Op: "find", Err: &registrystore.UnavailableError{Err: errors.New("refused")}}, http.StatusServiceUnavailable, "store_unavailable"},
		{"timeout", &registrystore.UnavailableError{Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "store_timeout"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, body := respond(t, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandle_Details(t *testing.T) {
	_, body := respond(t, registrystore.NameCollision("jan"))
	assert.Equal(t, "jan", body["collectionName"])

	_, body = respond(t, &archive.DecodeError{Fragment: "a.json", Offset: 3, Reason: "bad"})
	assert.Equal(t, "a.json", body["file"])
	assert.Equal(t, float64(3), body["offset"])

	_, body = respond(t, &registrystore.ValidationError{Field: "toDate", Message: "bad"})
	assert.Equal(t, "toDate", body["field"])

	// Internal details stay in the log.
	_, body = respond(t, errors.New("password=hunter2"))
	assert.Equal(t, "internal server error", body["error"])
}

func TestHandle_PartialUploadWinsOverCause(t *testing.T) {
	err := &service.PartialUploadError{
		Collection: "jan",
		Inserted:   2,
		Total:      5,
		Err:        &registrystore.UnavailableError{Err: errors.New("refused")},
	}
	status, body := respond(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "partial_upload", body["code"])
	assert.Equal(t, "jan", body["collectionName"])
	assert.Equal(t, float64(2), body["inserted"])
}
