package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/danharlow/trellis/pkg/http"
	"github.com/go-chi/httprate"
)

// LoginRateLimit is a coarse transport-level cap on login traffic per client
// address. It backstops the adaptive risk pipeline against raw floods; the
// pipeline itself handles everything below this ceiling.
func LoginRateLimit(requestLimit int, window time.Duration, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, slow down")
		}),
	)
}
