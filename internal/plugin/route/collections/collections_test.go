package collections_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-archive/internal/model"
	"github.com/chirino/chat-archive/internal/plugin/route/collections"
	registryroute "github.com/chirino/chat-archive/internal/registry/route"
	"github.com/chirino/chat-archive/internal/service"
	"github.com/chirino/chat-archive/internal/testutil/storetest"
	"github.com/chirino/chat-archive/internal/testutil/testarchive"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *testarchive.Env {
	t.Helper()
	env := testarchive.New(t)
	ctx := context.Background()
	seed := map[string]int{"zed": 1, "amy": 3, "bob": 3}
	for name, n := range seed {
		require.NoError(t, env.Store.Create(ctx, name, model.ConversationMeta{
			Participants: []model.Participant{{Name: name}},
			Title:        name,
			MagicWords:   []string{},
		}))
		msgs := make([]model.Message, n)
		for i := range msgs {
			msgs[i] = storetest.Msg(name, "hello", int64(i))
		}
		_, err := env.Store.InsertMany(ctx, name, msgs)
		require.NoError(t, err)
	}
	return env
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	collections.MountRoutes(router, seeded(t).Archive)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func code(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	s, _ := body["code"].(string)
	return s
}

func TestListCollections(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"name":"amy","messageCount":3},
		{"name":"bob","messageCount":3},
		{"name":"zed","messageCount":1}
	]`, w.Body.String())

	w = do(t, router, http.MethodGet, "/collections/alphabetical", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"name":"amy","messageCount":3},
		{"name":"bob","messageCount":3},
		{"name":"zed","messageCount":1}
	]`, w.Body.String())
}

func TestDescribe(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodGet, "/collections/zed", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info model.ConversationInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "zed", info.Name)
	assert.Equal(t, int64(1), info.MessageCount)
	assert.Equal(t, "zed", info.Participants[0].Name)

	w = do(t, router, http.MethodGet, "/collections/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", code(t, w))
}

func TestRename(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodPut, "/rename/zed", `{"newCollectionName":"has space"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", code(t, w))

	w = do(t, router, http.MethodPut, "/rename/zed", `{"newCollectionName":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPut, "/rename/ghost", `{"newCollectionName":"spirit"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPut, "/rename/zed", `{"newCollectionName":"amy"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "name_collision", code(t, w))

	w = do(t, router, http.MethodPut, "/rename/zed", `{"newCollectionName":"zoe_2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "zoe_2")

	w = do(t, router, http.MethodGet, "/collections/alphabetical", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"zoe_2"`)
	assert.NotContains(t, w.Body.String(), `"zed"`)
}

func TestDelete(t *testing.T) {
	router := setupRouter(t)

	// Listing first caches the directory, which the delete must invalidate.
	w := do(t, router, http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"amy"`)

	w = do(t, router, http.MethodDelete, "/delete/amy", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Collection deleted","collectionName":"amy"}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/collections", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"name":"bob","messageCount":3},
		{"name":"zed","messageCount":1}
	]`, w.Body.String())

	w = do(t, router, http.MethodDelete, "/delete/amy", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/collections/amy", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisteredLoader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	loaders := registryroute.MainRouteLoaders()
	require.Len(t, loaders, 1)

	err := loaders[0](context.Background(), gin.New())
	assert.ErrorIs(t, err, registryroute.ErrNotInitialized)

	router := gin.New()
	ctx := service.WithArchive(context.Background(), seeded(t).Archive)
	require.NoError(t, loaders[0](ctx, router))

	w := do(t, router, http.MethodGet, "/collections/alphabetical", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"amy"`)
}

func TestPhoto(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodGet, "/photo/bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isPhotoAvailable":false}`, w.Body.String())

	w = do(t, router, http.MethodPut, "/photo/bob", `{"isPhotoAvailable":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/photo/bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"isPhotoAvailable":true}`, w.Body.String())

	w = do(t, router, http.MethodPut, "/photo/bob", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPut, "/photo/ghost", `{"isPhotoAvailable":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, router, http.MethodGet, "/photo/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
