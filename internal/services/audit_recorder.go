package services

import (
	"context"
	"log/slog"

	"github.com/danharlow/trellis/internal/models"
	pkglogger "github.com/danharlow/trellis/pkg/logger"
)

// AuditStore is the write side of the event-log store
type AuditStore interface {
	AppendAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	AppendSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

// AuditRecorder writes attempt and security-event records. Writes are
// best-effort: a failed audit write is logged for operators but never
// propagated, because correctness of the login response takes priority over
// completeness of the audit trail.
type AuditRecorder struct {
	store  AuditStore
	logger *slog.Logger
}

// NewAuditRecorder creates a new AuditRecorder
func NewAuditRecorder(store AuditStore, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, logger: logger}
}

// RecordAttempt writes a login attempt record, swallowing failures
func (r *AuditRecorder) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) {
	if err := r.store.AppendAttempt(ctx, attempt); err != nil {
		r.logger.Error("failed to write login attempt record",
			slog.String("action", attempt.Action),
			slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
			slog.String("ip_address", attempt.IPAddress),
			slog.Any("error", err))
	}
}

// RecordSecurityEvent writes a security event record, swallowing failures
func (r *AuditRecorder) RecordSecurityEvent(ctx context.Context, event *models.SecurityEvent) {
	if err := r.store.AppendSecurityEvent(ctx, event); err != nil {
		r.logger.Error("failed to write security event record",
			slog.String("category", event.Category),
			slog.String("ip_address", event.IPAddress),
			slog.Any("error", err))
	}
}
