package models

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded on login attempt records
const (
	ActionLoginFailed       = "login_failed"
	ActionLoginSuccess      = "login_success"
	ActionLoginError        = "login_error"
	ActionLoginDBSyncFailed = "login_db_sync_failed"
)

// EventCategoryLogin is the fixed category for attempt records
const EventCategoryLogin = "login"

// LoginAttempt represents a single authentication attempt, written once
// after the outcome is known and never mutated.
type LoginAttempt struct {
	ID                uuid.UUID `db:"id"`
	AccountID         *string   `db:"account_id"` // nil until credentials verified
	Category          string    `db:"category"`
	Action            string    `db:"action"`
	Email             string    `db:"email"`
	IPAddress         string    `db:"ip_address"`
	UserAgent         string    `db:"user_agent"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	Success           bool      `db:"success"`
	ErrorCode         *string   `db:"error_code"`
	ErrorMessage      *string   `db:"error_message"`
	Metadata          Metadata  `db:"metadata"`
	CreatedAt         time.Time `db:"created_at"`
}

// AttemptStamp is the minimal projection used by the bot-timing heuristic
type AttemptStamp struct {
	CreatedAt time.Time
	Success   bool
}
