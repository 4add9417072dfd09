package middleware_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/middleware"
)

const checkInLimit = 64

// drain reads the whole body and reports how it went: 200 with the byte
// count, or 413 when http.MaxBytesReader cut it off.
var drain = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	n, err := io.Copy(io.Discard, r.Body)
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Repeat("o", int(n)))
})

func checkInRequest(body string, contentLength int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/selection/check-in", strings.NewReader(body))
	req.ContentLength = contentLength
	return req
}

func TestMaxBodySizeHandler(t *testing.T) {
	h := middleware.NewMaxBodySizeHandler(checkInLimit)(drain)

	tests := []struct {
		name          string
		body          string
		contentLength int64
		want          int
	}{
		{"confirm_zero payload", `{"confirm_zero":true}`, 21, http.StatusOK},
		{"exactly at the cap", strings.Repeat("x", checkInLimit), checkInLimit, http.StatusOK},
		{"declared length over the cap", strings.Repeat("x", 100), 100, http.StatusRequestEntityTooLarge},
		{"chunked body over the cap", strings.Repeat("x", 100), -1, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, checkInRequest(tc.body, tc.contentLength))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMaxBodySizeHandler_EarlyRejectUsesErrorEnvelope(t *testing.T) {
	reached := false
	h := middleware.NewMaxBodySizeHandler(checkInLimit)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, checkInRequest(strings.Repeat("x", 100), 100))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, reached)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too_large", body.Error.Code)
}

func TestMaxBodySizeHandler_BodylessRequestPasses(t *testing.T) {
	h := middleware.NewMaxBodySizeHandler(checkInLimit)(drain)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
