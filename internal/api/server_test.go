package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/metrics"
	"github.com/issuedata/harvester/internal/state"
)

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	metrics.Init()
	store := state.Load(filepath.Join(t.TempDir(), "state.json"), zap.NewNop())
	return NewServer(store, zap.NewNop()), store
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestGetProgress(t *testing.T) {
	s, store := newTestServer(t)
	store.InitProject("KAFKA")
	store.MarkProcessed("KAFKA", "KAFKA-1")
	store.UpdateCursor("KAFKA", 1, 10)

	rec := doRequest(t, s, http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Summary  state.Summary                   `json:"summary"`
		Projects map[string]state.ProjectSummary `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Summary.TotalProcessed)
	require.Contains(t, body.Projects, "KAFKA")
	assert.Equal(t, 1, body.Projects["KAFKA"].Processed)
	assert.Equal(t, 10, body.Projects["KAFKA"].TotalKnown)
}

func TestGetProjectProgress(t *testing.T) {
	s, store := newTestServer(t)
	store.InitProject("SPARK")
	store.MarkProcessed("SPARK", "SPARK-1")
	store.MarkFailed("SPARK", "SPARK-2", "boom")

	rec := doRequest(t, s, http.MethodGet, "/v1/progress/SPARK")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Project  string               `json:"project"`
		Progress state.ProjectSummary `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SPARK", body.Project)
	assert.Equal(t, 1, body.Progress.Processed)
	assert.Equal(t, 1, body.Progress.Failed)
}

func TestGetProjectProgress_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/progress/GHOST")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "project not found", body["error"])
}
