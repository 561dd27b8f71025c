package repositories

import (
	"context"
	"fmt"

	"github.com/danharlow/trellis/internal/database"
	"github.com/danharlow/trellis/internal/models"
	"github.com/jackc/pgx/v5"
)

// ProfileRepository handles local account profile records
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByAccountID fetches a profile with its role-specific sub-profile.
// Returns models.ErrNotFound when no profile exists for the account.
func (r *ProfileRepository) GetByAccountID(ctx context.Context, accountID string) (*models.Profile, error) {
	query := `
		SELECT account_id, email, first_name, last_name, role, email_verified,
		       avatar_url, last_login_at, created_at, updated_at
		FROM profiles
		WHERE account_id = $1
	`

	var p models.Profile
	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(
		&p.AccountID, &p.Email, &p.FirstName, &p.LastName, &p.Role,
		&p.EmailVerified, &p.AvatarURL, &p.LastLoginAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if err := r.loadSubProfile(ctx, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// Create inserts a profile and its role-specific sub-profile atomically
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO profiles (account_id, email, first_name, last_name, role, email_verified, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			profile.AccountID, profile.Email, profile.FirstName, profile.LastName,
			profile.Role, profile.EmailVerified, profile.AvatarURL, profile.LastLoginAt,
		).Scan(&profile.CreatedAt, &profile.UpdatedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}

		switch profile.Role {
		case models.RoleTeacher:
			if profile.Teacher == nil {
				profile.Teacher = &models.TeacherProfile{AccountID: profile.AccountID, ApprovalStatus: models.ApprovalPending}
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO teacher_profiles (account_id, approval_status, bio, subjects) VALUES ($1, $2, $3, $4)`,
				profile.AccountID, profile.Teacher.ApprovalStatus, profile.Teacher.Bio, profile.Teacher.Subjects,
			)
		default:
			if profile.Student == nil {
				profile.Student = &models.StudentProfile{AccountID: profile.AccountID}
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO student_profiles (account_id, grade_level, interests, completion_pct) VALUES ($1, $2, $3, $4)`,
				profile.AccountID, profile.Student.GradeLevel, profile.Student.Interests, profile.Student.CompletionPct,
			)
		}
		if err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return profile, nil
}

// Update applies a login-time patch to an existing profile and returns the
// refreshed record
func (r *ProfileRepository) Update(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
	query := `
		UPDATE profiles SET
			email_verified = COALESCE($2, email_verified),
			last_login_at = COALESCE($3, last_login_at),
			avatar_url = COALESCE($4, avatar_url),
			updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, accountID, patch.EmailVerified, patch.LastLoginAt, patch.AvatarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}

	return r.GetByAccountID(ctx, accountID)
}

func (r *ProfileRepository) loadSubProfile(ctx context.Context, p *models.Profile) error {
	switch p.Role {
	case models.RoleTeacher:
		var tp models.TeacherProfile
		err := r.db.Pool.QueryRow(ctx,
			`SELECT account_id, approval_status, bio, subjects FROM teacher_profiles WHERE account_id = $1`,
			p.AccountID,
		).Scan(&tp.AccountID, &tp.ApprovalStatus, &tp.Bio, &tp.Subjects)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return database.MapPostgresError(err)
		}
		p.Teacher = &tp
	case models.RoleStudent:
		var sp models.StudentProfile
		err := r.db.Pool.QueryRow(ctx,
			`SELECT account_id, grade_level, interests, completion_pct FROM student_profiles WHERE account_id = $1`,
			p.AccountID,
		).Scan(&sp.AccountID, &sp.GradeLevel, &sp.Interests, &sp.CompletionPct)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return database.MapPostgresError(err)
		}
		p.Student = &sp
	}
	return nil
}
