package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkordes/tripsync/backend/internal/identity"
)

// accessTokenParam carries the credential for websocket upgrades, which
// browsers cannot send with an Authorization header.
const accessTokenParam = "access_token"

// NewAuthHandler returns a middleware that verifies the bearer token of every
// request with v and stores the resulting identity.User in the request
// context. Requests without a valid token get 401 and never reach next.
func NewAuthHandler(v identity.Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			u, err := v.Verify(r.Context(), token)
			if err != nil {
				log.DebugContext(r.Context(), "token rejected", "path", r.URL.Path, "error", err)
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), u)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if h == "" {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tripsync"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthenticated", "message": message},
	})
}
