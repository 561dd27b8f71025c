package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifiedIdentity() *clients.VerifiedIdentity {
	return &clients.VerifiedIdentity{
		Success:       true,
		AccountID:     "acct-42",
		Email:         "amara@example.com",
		DisplayName:   "Amara N. Okafor",
		EmailVerified: true,
		SessionToken:  "sess-token",
	}
}

func TestReconcileCreatesProfileOnFirstLogin(t *testing.T) {
	var created *models.Profile
	profiles := &mockProfileStore{
		GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
			return nil, models.ErrNotFound
		},
		CreateFunc: func(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
			created = profile
			return profile, nil
		},
	}
	var pushedClaims models.SessionClaims
	identity := &mockClaimsPusher{
		PushSessionClaimsFunc: func(ctx context.Context, accountID string, claims models.SessionClaims) error {
			assert.Equal(t, "acct-42", accountID)
			pushedClaims = claims
			return nil
		},
	}

	reconciler := NewAccountReconciler(profiles, identity, 80, testLogger())
	result, err := reconciler.Reconcile(context.Background(), verifiedIdentity())

	require.NoError(t, err)
	assert.True(t, result.Created)

	require.NotNil(t, created)
	assert.Equal(t, "acct-42", created.AccountID)
	assert.Equal(t, "Amara", created.FirstName)
	assert.Equal(t, "N. Okafor", created.LastName)
	assert.Equal(t, models.RoleStudent, created.Role)
	require.NotNil(t, created.Student)
	assert.Equal(t, 20, created.Student.CompletionPct)
	require.NotNil(t, created.LastLoginAt)

	assert.Equal(t, models.RoleStudent, pushedClaims.Role)
	assert.Contains(t, pushedClaims.Permissions, "courses:enroll")
	assert.False(t, pushedClaims.ProfileComplete)
	assert.True(t, pushedClaims.EmailVerified)
}

func TestReconcileUpdatesExistingProfile(t *testing.T) {
	existingAvatar := "https://cdn.example.com/amara.png"
	existing := &models.Profile{
		AccountID:     "acct-42",
		Email:         "amara@example.com",
		FirstName:     "Amara",
		LastName:      "Okafor",
		Role:          models.RoleTeacher,
		EmailVerified: false,
		AvatarURL:     &existingAvatar,
		Teacher:       &models.TeacherProfile{AccountID: "acct-42", ApprovalStatus: models.ApprovalApproved},
	}

	var patched models.ProfileUpdate
	profiles := &mockProfileStore{
		GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
			return existing, nil
		},
		UpdateFunc: func(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
			patched = patch
			updated := *existing
			updated.EmailVerified = *patch.EmailVerified
			updated.LastLoginAt = patch.LastLoginAt
			return &updated, nil
		},
	}
	identity := &mockClaimsPusher{
		PushSessionClaimsFunc: func(ctx context.Context, accountID string, claims models.SessionClaims) error {
			return nil
		},
	}

	ident := verifiedIdentity()
	providerAvatar := "https://provider.example.com/avatar.png"
	ident.AvatarURL = &providerAvatar

	reconciler := NewAccountReconciler(profiles, identity, 80, testLogger())
	result, err := reconciler.Reconcile(context.Background(), ident)

	require.NoError(t, err)
	assert.False(t, result.Created)

	require.NotNil(t, patched.EmailVerified)
	assert.True(t, *patched.EmailVerified)
	require.NotNil(t, patched.LastLoginAt)
	assert.WithinDuration(t, time.Now(), *patched.LastLoginAt, 5*time.Second)
	// the profile already has an avatar; the provider's must not replace it
	assert.Nil(t, patched.AvatarURL)

	assert.Equal(t, models.RoleTeacher, result.Claims.Role)
	assert.Contains(t, result.Claims.Permissions, "assignments:grade")
	assert.True(t, result.Claims.ProfileComplete)
}

func TestReconcileBackfillsMissingAvatar(t *testing.T) {
	existing := &models.Profile{
		AccountID: "acct-42",
		Role:      models.RoleStudent,
		Student:   &models.StudentProfile{AccountID: "acct-42", CompletionPct: 90},
	}
	var patched models.ProfileUpdate
	profiles := &mockProfileStore{
		GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
			return existing, nil
		},
		UpdateFunc: func(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
			patched = patch
			return existing, nil
		},
	}
	identity := &mockClaimsPusher{
		PushSessionClaimsFunc: func(ctx context.Context, accountID string, claims models.SessionClaims) error {
			return nil
		},
	}

	ident := verifiedIdentity()
	providerAvatar := "https://provider.example.com/avatar.png"
	ident.AvatarURL = &providerAvatar

	reconciler := NewAccountReconciler(profiles, identity, 80, testLogger())
	result, err := reconciler.Reconcile(context.Background(), ident)

	require.NoError(t, err)
	require.NotNil(t, patched.AvatarURL)
	assert.Equal(t, providerAvatar, *patched.AvatarURL)
	assert.True(t, result.Claims.ProfileComplete)
}

func TestReconcilePropagatesStoreErrors(t *testing.T) {
	profiles := &mockProfileStore{
		GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
			return nil, errors.New("connection refused")
		},
	}
	reconciler := NewAccountReconciler(profiles, &mockClaimsPusher{}, 80, testLogger())

	_, err := reconciler.Reconcile(context.Background(), verifiedIdentity())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to look up profile")
}

func TestReconcilePropagatesClaimsPushErrors(t *testing.T) {
	profiles := &mockProfileStore{
		GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
			return &models.Profile{AccountID: accountID, Role: models.RoleStudent}, nil
		},
		UpdateFunc: func(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
			return &models.Profile{AccountID: accountID, Role: models.RoleStudent}, nil
		},
	}
	identity := &mockClaimsPusher{
		PushSessionClaimsFunc: func(ctx context.Context, accountID string, claims models.SessionClaims) error {
			return errors.New("identity provider unavailable")
		},
	}

	reconciler := NewAccountReconciler(profiles, identity, 80, testLogger())
	_, err := reconciler.Reconcile(context.Background(), verifiedIdentity())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push session claims")
}

func TestSplitDisplayName(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantFirst string
		wantLast  string
	}{
		{"two parts", "Amara Okafor", "Amara", "Okafor"},
		{"three parts", "Amara N. Okafor", "Amara", "N. Okafor"},
		{"single name", "Amara", "Amara", ""},
		{"empty", "", "", ""},
		{"surrounding space", "  Amara Okafor  ", "Amara", "Okafor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := splitDisplayName(tt.input)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
