package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/mirrorfs/internal/protocol/dfs"
	promMetrics "github.com/mirrorfs/mirrorfs/pkg/metrics/prometheus"
)

type fakeStatus struct {
	files []dfs.FileInfo
	locks map[string]string
}

func (f *fakeStatus) Files() ([]dfs.FileInfo, error) { return f.files, nil }
func (f *fakeStatus) Locks() map[string]string       { return f.locks }

func TestHealth(t *testing.T) {
	router := NewRouter(&fakeStatus{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestFilesSnapshot(t *testing.T) {
	status := &fakeStatus{files: []dfs.FileInfo{{Name: "a.txt", FileSize: 5, Mtime: 100}}}
	router := NewRouter(status, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Files []dfs.FileInfo `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Files, 1)
	assert.Equal(t, "a.txt", body.Files[0].Name)
}

func TestLocksSnapshot(t *testing.T) {
	status := &fakeStatus{locks: map[string]string{"b.txt": "client-1"}}
	router := NewRouter(status, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locks", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "client-1")
}

func TestMetricsRoute(t *testing.T) {
	m := promMetrics.New()
	router := NewRouter(&fakeStatus{}, m.Registry())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsAbsentWhenDisabled(t *testing.T) {
	router := NewRouter(&fakeStatus{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
