package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 600

// NewCORSHandler returns a middleware that answers cross-origin requests from
// allowedOrigins. Entries are full origins without a trailing slash; "*" and
// single-wildcard patterns such as "https://*.example.com" are accepted.
//
// Browsers must be able to send the bearer token and read the request id and
// WWW-Authenticate challenge back, so those headers are allowed and exposed.
func NewCORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "WWW-Authenticate"},
		MaxAge:         corsMaxAge,
	})
	return c.Handler
}
