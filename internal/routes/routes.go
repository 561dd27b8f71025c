package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danharlow/trellis/internal/handlers"
	custommw "github.com/danharlow/trellis/internal/middleware"
	pkghttp "github.com/danharlow/trellis/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router assembles the HTTP surface: one health endpoint and the login
// endpoint under the versioned API prefix.
func Router(
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommw.SecureLogger(logger, ipConfig))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(custommw.SecurityHeaders)

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(custommw.LoginRateLimit(30, time.Minute, ipConfig)).
				Post("/login", authHandler.Login)
		})
	})

	return r
}
