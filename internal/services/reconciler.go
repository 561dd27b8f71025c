package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
)

// initialCompletionPct is the completion percentage a freshly created
// student profile starts at (name and email are known, nothing else)
const initialCompletionPct = 20

// ProfileStore is the local profile record store
type ProfileStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	Update(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error)
}

// ClaimsPusher stores derived session claims on the identity provider
type ClaimsPusher interface {
	PushSessionClaims(ctx context.Context, accountID string, claims models.SessionClaims) error
}

// ReconcileResult is the outcome of post-authentication reconciliation
type ReconcileResult struct {
	Profile *models.Profile
	Claims  models.SessionClaims
	Created bool
}

// AccountReconciler syncs the verified identity with the local profile record
// and derives the account's authorization payload. Its failures must never
// invalidate an already-successful credential verification; the orchestrator
// catches them and degrades the response instead.
type AccountReconciler struct {
	profiles            ProfileStore
	identity            ClaimsPusher
	completionThreshold int
	logger              *slog.Logger
}

// NewAccountReconciler creates a new AccountReconciler
func NewAccountReconciler(profiles ProfileStore, identity ClaimsPusher, completionThreshold int, logger *slog.Logger) *AccountReconciler {
	return &AccountReconciler{
		profiles:            profiles,
		identity:            identity,
		completionThreshold: completionThreshold,
		logger:              logger,
	}
}

// Reconcile fetches or creates the profile for a verified identity, applies
// the latest verification metadata, and pushes derived claims to the
// identity provider.
func (s *AccountReconciler) Reconcile(ctx context.Context, ident *clients.VerifiedIdentity) (*ReconcileResult, error) {
	now := time.Now()

	profile, err := s.profiles.GetByAccountID(ctx, ident.AccountID)
	created := false

	switch {
	case errors.Is(err, models.ErrNotFound):
		firstName, lastName := splitDisplayName(ident.DisplayName)
		profile, err = s.profiles.Create(ctx, &models.Profile{
			AccountID:     ident.AccountID,
			Email:         ident.Email,
			FirstName:     firstName,
			LastName:      lastName,
			Role:          models.RoleStudent,
			EmailVerified: ident.EmailVerified,
			AvatarURL:     ident.AvatarURL,
			LastLoginAt:   &now,
			Student: &models.StudentProfile{
				AccountID:     ident.AccountID,
				CompletionPct: initialCompletionPct,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create profile: %w", err)
		}
		created = true
		s.logger.Info("profile created on first login", slog.String("account_id", ident.AccountID))

	case err != nil:
		return nil, fmt.Errorf("failed to look up profile: %w", err)

	default:
		patch := models.ProfileUpdate{
			EmailVerified: &ident.EmailVerified,
			LastLoginAt:   &now,
		}
		// Opportunistic backfill: take the provider's avatar only when the
		// profile has none of its own
		if ident.AvatarURL != nil && profile.AvatarURL == nil {
			patch.AvatarURL = ident.AvatarURL
		}
		profile, err = s.profiles.Update(ctx, ident.AccountID, patch)
		if err != nil {
			return nil, fmt.Errorf("failed to update profile: %w", err)
		}
	}

	claims := models.SessionClaims{
		Role:            profile.Role,
		Permissions:     models.PermissionsForRole(profile.Role),
		ProfileID:       profile.AccountID,
		ProfileComplete: profile.IsComplete(s.completionThreshold),
		EmailVerified:   profile.EmailVerified,
	}

	if err := s.identity.PushSessionClaims(ctx, profile.AccountID, claims); err != nil {
		return nil, fmt.Errorf("failed to push session claims: %w", err)
	}

	return &ReconcileResult{Profile: profile, Claims: claims, Created: created}, nil
}

// splitDisplayName splits a display name on the first whitespace: first token
// becomes the first name, the remainder the last name
func splitDisplayName(displayName string) (string, string) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", ""
	}
	parts := strings.Fields(displayName)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
