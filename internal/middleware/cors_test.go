package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripsync/backend/internal/middleware"
)

// okHandler always answers 200.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

const webOrigin = "http://localhost:5173"

func preflight(origin, method, headers string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/trips/t1", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	if headers != "" {
		// Browsers send Access-Control-Request-Headers in lowercase.
		req.Header.Set("Access-Control-Request-Headers", headers)
	}
	return req
}

func TestCORSHandler_Preflight(t *testing.T) {
	h := middleware.NewCORSHandler([]string{webOrigin})(okHandler)

	tests := []struct {
		name    string
		origin  string
		method  string
		headers string
		allowed bool
	}{
		{"json write with token", webOrigin, http.MethodPut, "authorization,content-type", true},
		{"delete", webOrigin, http.MethodDelete, "authorization", true},
		{"patch is not part of the API", webOrigin, http.MethodPatch, "", false},
		{"unknown header", webOrigin, http.MethodPost, "x-custom", false},
		{"foreign origin", "http://evil.example.com", http.MethodGet, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, preflight(tc.origin, tc.method, tc.headers))

			require.Less(t, rec.Code, 300, "preflights never reach the API")
			if tc.allowed {
				assert.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSHandler_ExposesRequestID(t *testing.T) {
	h := middleware.NewCORSHandler([]string{webOrigin})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Origin", webOrigin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	exposed := strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, exposed, "x-request-id")
	assert.Contains(t, exposed, "www-authenticate")
}

func TestCORSHandler_WildcardSubdomain(t *testing.T) {
	h := middleware.NewCORSHandler([]string{"https://*.trips.example"})(okHandler)

	for origin, want := range map[string]string{
		"https://app.trips.example": "https://app.trips.example",
		"https://trips.example.com": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/trips", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, want, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}
