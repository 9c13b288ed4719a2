package upload_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/chat-archive/internal/config"
	"github.com/chirino/chat-archive/internal/plugin/route/collections"
	"github.com/chirino/chat-archive/internal/plugin/route/messages"
	"github.com/chirino/chat-archive/internal/plugin/route/search"
	"github.com/chirino/chat-archive/internal/plugin/route/upload"
	"github.com/chirino/chat-archive/internal/testutil/testarchive"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *testarchive.Env) {
	t.Helper()
	env := testarchive.New(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	upload.MountRoutes(router, env.Archive.Mutations, cfg)
	collections.MountRoutes(router, env.Archive)
	messages.MountRoutes(router, env.Archive.Query)
	search.MountRoutes(router, env.Archive.Search)
	return router, env
}

type file struct {
	name string
	body string
}

func doUpload(t *testing.T, router *gin.Engine, files ...file) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(upload.FormField, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const (
	part1 = `{
		"participants": [{"name": "Jan Nov\u00c3\u00a1k"}, {"name": "Me"}],
		"title": "Jan",
		"messages": [
			{"sender_name": "Jan", "timestamp_ms": 1672617600300, "content": "Dobr\u00c3\u00bd den, \u00c4\u008daj?"},
			{"sender_name": "Me", "timestamp_ms": 1672704000000, "content": "CAJ"}
		]
	}`
	part2 = `{
		"participants": [{"name": "Jan Nov\u00c3\u00a1k"}, {"name": "Me"}],
		"title": "Jan",
		"messages": [
			{"sender_name": "Me", "timestamp_ms": 1672617600100, "content": "Caj"},
			{"sender_name": "Jan", "timestamp_ms": 1672617599999, "content": "late"}
		]
	}`
)

type message struct {
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func TestUpload_EndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	router, _ := setupRouter(t, &cfg)

	w := doUpload(t, router, file{"message_1.json", part1}, file{"message_2.json", part2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]any](t, w)
	assert.Equal(t, "Jan_Novak", created["collectionName"])
	assert.Equal(t, float64(4), created["messageCount"])

	// Fragments are merged in timestamp order.
	w = do(t, router, http.MethodGet, "/messages/Jan_Novak", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]message](t, w)
	require.Len(t, msgs, 4)
	assert.Equal(t, []int64{1672617599999, 1672617600100, 1672617600300, 1672704000000},
		[]int64{msgs[0].TimestampMS, msgs[1].TimestampMS, msgs[2].TimestampMS, msgs[3].TimestampMS})
	assert.Equal(t, "Dobrý den, čaj?", msgs[2].Content)

	// Only the 2023-01-02 UTC day.
	w = do(t, router, http.MethodGet, "/messages/Jan_Novak?fromDate=2023-01-02&toDate=2023-01-02", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs = decode[[]message](t, w)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Caj", msgs[0].Content)
	assert.Equal(t, "Dobrý den, čaj?", msgs[1].Content)

	// Diacritics and case are ignored.
	w = do(t, router, http.MethodPost, "/search", map[string]string{"query": "čaj"})
	require.Equal(t, http.StatusOK, w.Code)
	hits := decode[[]map[string]any](t, w)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, "Jan_Novak", h["collectionName"])
	}
	assert.Equal(t, "Caj", hits[0]["content"])
	assert.Equal(t, "CAJ", hits[2]["content"])

	// A deleted conversation disappears from a cached directory immediately.
	w = do(t, router, http.MethodGet, "/collections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"Jan_Novak","messageCount":4}]`, w.Body.String())

	w = do(t, router, http.MethodDelete, "/delete/Jan_Novak", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, http.MethodGet, "/collections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUpload_SecondUploadGetsSuffix(t *testing.T) {
	cfg := config.DefaultConfig()
	router, _ := setupRouter(t, &cfg)

	w := doUpload(t, router, file{"message_1.json", part1})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doUpload(t, router, file{"message_1.json", part1})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Jan_Novak_1", decode[map[string]any](t, w)["collectionName"])
}

func TestUpload_MalformedStoresNothing(t *testing.T) {
	cfg := config.DefaultConfig()
	router, env := setupRouter(t, &cfg)

	w := doUpload(t, router, file{"message_1.json", part1}, file{"message_2.json", `{"participants": []}`})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "malformed_archive", body["code"])
	assert.Equal(t, "message_2.json", body["file"])

	w = doUpload(t, router, file{"message_3.json", `{"participants": [{"name": "\u00c"}], "messages": []}`})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "decode_error", decode[map[string]any](t, w)["code"])

	names, err := env.Store.ListNames(t.Context())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestUpload_RequestLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxUploadFiles = 1
	cfg.MaxBodySize = 4096
	router, _ := setupRouter(t, &cfg)

	w := doUpload(t, router)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doUpload(t, router, file{"a.json", part1}, file{"b.json", part2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too many files")

	w = doUpload(t, router, file{"big.json", strings.Repeat("x", 8192)})
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
