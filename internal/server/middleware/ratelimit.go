package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per client IP to n per window using a sliding
// window. Excess requests get a JSON 429.
func RateLimit(n int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		n,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}
