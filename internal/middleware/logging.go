package middleware

import (
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/danharlow/trellis/pkg/http"
	pkglogger "github.com/danharlow/trellis/pkg/logger"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// SecureLogger logs one line per request without leaking credentials or
// tokens: query strings carrying sensitive parameters are redacted wholesale
// and request bodies are never logged.
func SecureLogger(logger *slog.Logger, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			query := r.URL.RawQuery
			if pkglogger.SanitizeQueryString(query) {
				query = "[REDACTED]"
			}

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", query),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("ip_address", pkghttp.ExtractClientIP(r, ipConfig)),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
