package search_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/plugin/route/search"
	"github.com/chirino/chat-archive/internal/testutil/storetest"
	"github.com/chirino/chat-archive/internal/testutil/testarchive"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	env := testarchive.New(t)
	ctx := context.Background()
	for name, msgs := range map[string][]model.Message{
		"jan": {storetest.Msg("Jan", "Caj?", 2), storetest.Msg("Me", "kafe", 1)},
		"eva": {storetest.Msg("Eva", "CAJ", 2), storetest.Msg("Eva", "čaj s citronem", 3)},
	} {
		require.NoError(t, env.Store.Create(ctx, name, model.ConversationMeta{Participants: []model.Participant{{Name: name}}}))
		_, err := env.Store.InsertMany(ctx, name, msgs)
		require.NoError(t, err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	search.MountRoutes(router, env.Archive.Search)
	return router
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSearch(t *testing.T) {
	router := setupRouter(t)

	w := post(router, `{"query":"čaj"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var hits []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hits))
	require.Len(t, hits, 3)
	assert.Equal(t, "CAJ", hits[0]["content"])
	assert.Equal(t, "eva", hits[0]["collectionName"])
	assert.Equal(t, "Caj?", hits[1]["content"])
	assert.Equal(t, "jan", hits[1]["collectionName"])
	assert.Equal(t, "čaj s citronem", hits[2]["content"])
	assert.NotContains(t, w.Body.String(), "sanitized")

	w = post(router, `{"query":"tea"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearch_BadRequests(t *testing.T) {
	router := setupRouter(t)

	for _, body := range []string{`{"query":"   "}`, `{}`, `not json`} {
		w := post(router, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "validation_error", body)
	}
}
