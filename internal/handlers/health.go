package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/danharlow/trellis/pkg/http"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the liveness/readiness endpoint
type HealthHandler struct {
	db     Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Error("health check failed", slog.Any("error", err))
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unavailable",
			Database: "unreachable",
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Database: "ok",
	})
}
