package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/middleware"
)

// loggedRouter mounts a few trip routes behind RequestID and the slog
// middleware, writing JSON lines into buf at the given level.
func loggedRouter(buf *bytes.Buffer, level slog.Level) http.Handler {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewSlogLogger(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/trips/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"t1"}`))
	})
	r.Post("/selection/check-in", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	return r
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestSlogLogger_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	h := loggedRouter(&buf, slog.LevelInfo)

	req := httptest.NewRequest(http.MethodGet, "/trips/t1", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "trace-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	entry := lastEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "/trips/t1", entry["path"])
	assert.Equal(t, "/trips/{id}", entry["route"])
	assert.EqualValues(t, http.StatusOK, entry["status"])
	assert.EqualValues(t, len(`{"id":"t1"}`), entry["bytes"])
	assert.Equal(t, "trace-7", entry["request_id"])
	assert.Contains(t, entry, "duration_ms")
}

func TestSlogLogger_ServerErrorAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	h := loggedRouter(&buf, slog.LevelInfo)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/selection/check-in", nil))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "/selection/check-in", entry["route"])
	assert.EqualValues(t, http.StatusInternalServerError, entry["status"])
}

func TestSlogLogger_HealthProbesOnlyAtDebug(t *testing.T) {
	var quiet bytes.Buffer
	loggedRouter(&quiet, slog.LevelInfo).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Zero(t, quiet.Len())

	var verbose bytes.Buffer
	loggedRouter(&verbose, slog.LevelDebug).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "DEBUG", lastEntry(t, &verbose)["level"])
}
