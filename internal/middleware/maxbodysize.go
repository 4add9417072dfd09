package middleware

import "net/http"

// tooLargeBody matches the error envelope the API handlers write.
const tooLargeBody = `{"error":{"code":"too_large","message":"request body too large"}}` + "\n"

// NewMaxBodySizeHandler caps request bodies at limit bytes. A declared
// Content-Length over the cap is answered with 413 straight away; other bodies
// are wrapped in http.MaxBytesReader so decoding fails once the cap is crossed.
// Requests without a body (GET, the /ws upgrade) pass untouched.
func NewMaxBodySizeHandler(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(tooLargeBody))
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
