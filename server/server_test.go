package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stevemurr/collection-crud/config"
	"github.com/stevemurr/collection-crud/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return errors.New("backend down") }

func newTestServer(t *testing.T, s store.Store, cfg *config.Config) *httptest.Server {
	t.Helper()
	srv, err := New(cfg, s, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func testConfig() *config.Config {
	return &config.Config{
		Host:           "127.0.0.1",
		Port:           8080,
		Backend:        "memory",
		Collections:    []string{"notes", "tasks"},
		AllowedOrigins: []string{"*"},
		ParamsKey:      "id",
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestCollectionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), testConfig())

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/notes/", strings.NewReader(`{"_id":"n1","title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code, _ := get(t, ts.URL+"/notes/n1")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, ts.URL+"/tasks/")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = get(t, ts.URL+"/tasks/n1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatus(t *testing.T) {
	mem := store.NewMemoryStore()
	ts := newTestServer(t, mem, testConfig())

	code, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, code)

	var status struct {
		Status      string   `json:"status"`
		Backend     string   `json:"backend"`
		Collections []string `json:"collections"`
		Stored      []string `json:"stored"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "memory", status.Backend)
	assert.Equal(t, []string{"notes", "tasks"}, status.Collections)
	assert.Empty(t, status.Stored)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), testConfig())

	code, _ := get(t, ts.URL+"/live")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusOK, code)

	get(t, ts.URL+"/notes/")
	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "collection_crud_requests_total")
}

func TestReadinessFailsWhenStoreIsDown(t *testing.T) {
	ts := newTestServer(t, downStore{store.NewMemoryStore()}, testConfig())

	code, _ := get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, ts.URL+"/live")
	assert.Equal(t, http.StatusOK, code)
}

func TestCustomParamsKeyFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ParamsKey = "docId"
	srv, err := New(cfg, store.NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, srv.Controllers(), 2)
	for _, c := range srv.Controllers() {
		assert.Equal(t, "docId", c.ParamsKey)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0
	srv, err := New(cfg, store.NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
