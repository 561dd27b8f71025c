package models

import (
	"time"

	"github.com/google/uuid"
)

// Security event categories
const (
	SecurityEventMultipleFailedAttempts = "multiple_failed_attempts"
	SecurityEventNewDeviceLogin         = "new_device_login"
	SecurityEventBotDetected            = "bot_detected"
	SecurityEventSuspiciousLogin        = "suspicious_login"
	SecurityEventRateLimitExceeded      = "rate_limit_exceeded"
)

// SecurityEvent represents a noteworthy security condition. Events are only
// written when a threshold trips, not for every attempt, and are immutable
// once created.
type SecurityEvent struct {
	ID                uuid.UUID `db:"id"`
	Category          string    `db:"category"`
	RiskLevel         RiskLevel `db:"risk_level"`
	AccountID         *string   `db:"account_id"`
	IPAddress         string    `db:"ip_address"`
	UserAgent         string    `db:"user_agent"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	Blocked           bool      `db:"blocked"`
	Reason            string    `db:"reason"`
	Metadata          Metadata  `db:"metadata"`
	CreatedAt         time.Time `db:"created_at"`
}
