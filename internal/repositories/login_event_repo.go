package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/danharlow/trellis/internal/database"
	"github.com/danharlow/trellis/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginEventRepository is the event-log store: append-only login attempts and
// security events, queryable by actor, origin address, device and time window.
type LoginEventRepository struct {
	db *database.DB
}

// NewLoginEventRepository creates a new LoginEventRepository
func NewLoginEventRepository(db *database.DB) *LoginEventRepository {
	return &LoginEventRepository{db: db}
}

// AppendAttempt records a login attempt. Attempt records are immutable.
func (r *LoginEventRepository) AppendAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (
			account_id, category, action, email, ip_address, user_agent,
			device_fingerprint, success, error_code, error_message, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	category := attempt.Category
	if category == "" {
		category = models.EventCategoryLogin
	}

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.AccountID,
		category,
		attempt.Action,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.Success,
		attempt.ErrorCode,
		attempt.ErrorMessage,
		attempt.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append login attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// AppendSecurityEvent records a security event
func (r *LoginEventRepository) AppendSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, category, risk_level, account_id, ip_address, user_agent,
			device_fingerprint, blocked, reason, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		event.ID,
		event.Category,
		event.RiskLevel,
		event.AccountID,
		event.IPAddress,
		event.UserAgent,
		event.DeviceFingerprint,
		event.Blocked,
		event.Reason,
		event.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// CountFailuresByIP returns failed attempts from an origin address since a time
func (r *LoginEventRepository) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND created_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, err
}

// CountFailuresByEmail returns failed attempts for a candidate email since a time
func (r *LoginEventRepository) CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND success = false AND created_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, email, since).Scan(&count)
	return count, err
}

// CountFailuresByDevice returns failed attempts from a device fingerprint since a time
func (r *LoginEventRepository) CountFailuresByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE device_fingerprint = $1 AND success = false AND created_at >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, fingerprint, since).Scan(&count)
	return count, err
}

// CountSecurityEvents returns the number of security events in any of the
// given categories from an origin address since a time
func (r *LoginEventRepository) CountSecurityEvents(ctx context.Context, categories []string, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE category = ANY($1) AND ip_address = $2 AND created_at >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, categories, ipAddress, since).Scan(&count)
	return count, err
}

// RecentAttemptsByIP returns up to limit attempts (any outcome) from an origin
// address since a time, newest first
func (r *LoginEventRepository) RecentAttemptsByIP(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error) {
	query := `
		SELECT created_at, success FROM login_attempts
		WHERE ip_address = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, ipAddress, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent attempts: %w", err)
	}
	defer rows.Close()

	stamps := make([]models.AttemptStamp, 0, limit)
	for rows.Next() {
		var stamp models.AttemptStamp
		if err := rows.Scan(&stamp.CreatedAt, &stamp.Success); err != nil {
			return nil, fmt.Errorf("failed to scan attempt stamp: %w", err)
		}
		stamps = append(stamps, stamp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}

	return stamps, nil
}

// HasSuccessfulLoginFromDevice reports whether the account has a prior
// successful login with this device fingerprint
func (r *LoginEventRepository) HasSuccessfulLoginFromDevice(ctx context.Context, accountID, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM login_attempts
			WHERE account_id = $1 AND device_fingerprint = $2 AND success = true
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, fingerprint).Scan(&exists)
	return exists, err
}

// HasSuccessfulLoginFromIP reports whether the account has a prior successful
// login from this origin address
func (r *LoginEventRepository) HasSuccessfulLoginFromIP(ctx context.Context, accountID, ipAddress string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM login_attempts
			WHERE account_id = $1 AND ip_address = $2 AND success = true
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, ipAddress).Scan(&exists)
	return exists, err
}

// CountSuccessfulLogins returns the total successful logins for an account
func (r *LoginEventRepository) CountSuccessfulLogins(ctx context.Context, accountID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE account_id = $1 AND success = true
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&count)
	return count, err
}

// LastSuccessfulLoginIP returns the origin address of the account's most
// recent successful login, or nil if there is none
func (r *LoginEventRepository) LastSuccessfulLoginIP(ctx context.Context, accountID string) (*string, error) {
	query := `
		SELECT ip_address FROM login_attempts
		WHERE account_id = $1 AND success = true
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ip string
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(&ip)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &ip, nil
}
