package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loginFixture wires a LoginService over mocks preconfigured for a clean,
// successful login by a returning user. Tests override individual mocks to
// exercise each branch.
type loginFixture struct {
	riskStore  *mockRiskQueryStore
	captcha    *mockCaptchaVerifier
	verifier   *mockCredentialVerifier
	profiles   *mockProfileStore
	claims     *mockClaimsPusher
	history    *mockLoginHistoryStore
	audit      *capturingAuditStore
	alertsSent chan string

	service *LoginService
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	f := &loginFixture{
		riskStore: quietRiskStore(),
		captcha: &mockCaptchaVerifier{
			VerifyFunc: func(ctx context.Context, token, action, remoteIP string) (*clients.CaptchaResult, error) {
				return &clients.CaptchaResult{Success: true}, nil
			},
		},
		verifier: &mockCredentialVerifier{
			VerifyPasswordFunc: func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
				return verifiedIdentity(), nil
			},
		},
		profiles: &mockProfileStore{
			GetByAccountIDFunc: func(ctx context.Context, accountID string) (*models.Profile, error) {
				return &models.Profile{
					AccountID:     accountID,
					Email:         "amara@example.com",
					FirstName:     "Amara",
					LastName:      "Okafor",
					Role:          models.RoleStudent,
					EmailVerified: true,
					Student:       &models.StudentProfile{AccountID: accountID, CompletionPct: 90},
				}, nil
			},
			UpdateFunc: func(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
				return &models.Profile{
					AccountID:     accountID,
					Email:         "amara@example.com",
					FirstName:     "Amara",
					LastName:      "Okafor",
					Role:          models.RoleStudent,
					EmailVerified: true,
					LastLoginAt:   patch.LastLoginAt,
					Student:       &models.StudentProfile{AccountID: accountID, CompletionPct: 90},
				}, nil
			},
		},
		claims: &mockClaimsPusher{
			PushSessionClaimsFunc: func(ctx context.Context, accountID string, claims models.SessionClaims) error {
				return nil
			},
		},
		history:    knownHistoryStore(true, true, 12, nil),
		audit:      &capturingAuditStore{},
		alertsSent: make(chan string, 1),
	}

	alerts := &mockAlertService{
		SendNewDeviceAlertFunc: func(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error {
			f.alertsSent <- email
			return nil
		},
	}

	logger := testLogger()
	f.service = NewLoginService(
		NewRiskScorer(f.riskStore, testRiskConfig(), logger),
		NewChallengeGate(f.captcha, passingAttestation(), "development", logger),
		f.verifier,
		NewAccountReconciler(f.profiles, f.claims, 80, logger),
		NewNoveltyDetector(f.history, logger),
		NewAuditRecorder(f.audit, logger),
		alerts,
		logger,
	)
	return f
}

func loginInput() LoginInput {
	return LoginInput{
		Email:          "amara@example.com",
		Password:       "correct horse",
		IPAddress:      "203.0.113.10",
		UserAgent:      uaChromeWindows,
		AcceptLanguage: "en-US",
	}
}

func TestLoginCleanSuccess(t *testing.T) {
	f := newLoginFixture(t)

	result, err := f.service.Login(context.Background(), loginInput())
	require.NoError(t, err)

	assert.Equal(t, "sess-token", result.SessionToken)
	assert.Equal(t, "acct-42", result.User.ID)
	assert.Equal(t, "Amara", result.User.FirstName)
	assert.Equal(t, models.RoleStudent, result.User.Role)
	assert.Equal(t, "acct-42", result.ProfileID)
	assert.Contains(t, result.Permissions, "assignments:submit")
	assert.True(t, result.ProfileComplete)
	assert.Empty(t, result.Warning)

	assert.Equal(t, models.RiskLow, result.SecurityInfo.RiskLevel)
	assert.False(t, result.SecurityInfo.CaptchaVerified)
	assert.False(t, result.SecurityInfo.IsNewDevice)
	assert.False(t, result.SecurityInfo.IsNewLocation)

	require.Len(t, f.audit.attempts, 1)
	attempt := f.audit.attempts[0]
	assert.Equal(t, models.ActionLoginSuccess, attempt.Action)
	assert.True(t, attempt.Success)
	require.NotNil(t, attempt.AccountID)
	assert.Equal(t, "acct-42", *attempt.AccountID)
	assert.Equal(t, "low", attempt.Metadata["risk_level"])

	assert.Empty(t, f.audit.events)
	assert.Equal(t, 0, f.captcha.calls)
}

func TestLoginSuccessWithCaptcha(t *testing.T) {
	f := newLoginFixture(t)
	now := time.Now()
	// medium-tier churn forces the CAPTCHA requirement
	f.riskStore.CountFailuresByIPFunc = windowCounts(now, 1, 3, 3, 3)
	f.riskStore.CountFailuresByEmailFunc = windowCounts(now, 1, 2, 2, 2)

	input := loginInput()
	input.CaptchaToken = "tok-123"

	result, err := f.service.Login(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, f.captcha.calls)
	assert.Equal(t, models.RiskMedium, result.SecurityInfo.RiskLevel)
	assert.True(t, result.SecurityInfo.CaptchaVerified)

	require.Len(t, f.audit.attempts, 1)
	assert.Equal(t, true, f.audit.attempts[0].Metadata["captcha_verified"])
}

func TestLoginCaptchaRequiredShortCircuit(t *testing.T) {
	f := newLoginFixture(t)
	now := time.Now()
	f.riskStore.CountFailuresByIPFunc = windowCounts(now, 2, 8, 8, 8)

	_, err := f.service.Login(context.Background(), loginInput())

	assert.ErrorIs(t, err, models.ErrCaptchaRequired)
	// the credential check must never run on a short-circuit
	assert.Equal(t, 0, f.verifier.calls)
	assert.Empty(t, f.audit.attempts)

	require.Len(t, f.audit.events, 1)
	event := f.audit.events[0]
	assert.Equal(t, models.SecurityEventRateLimitExceeded, event.Category)
	assert.Equal(t, models.RiskHigh, event.RiskLevel)
	assert.True(t, event.Blocked)
}

func TestLoginCaptchaRequiredMediumRiskNoEvent(t *testing.T) {
	f := newLoginFixture(t)
	now := time.Now()
	f.riskStore.CountFailuresByIPFunc = windowCounts(now, 0, 0, 2, 25)

	_, err := f.service.Login(context.Background(), loginInput())

	assert.ErrorIs(t, err, models.ErrCaptchaRequired)
	assert.Equal(t, 0, f.verifier.calls)
	assert.Empty(t, f.audit.attempts)
	assert.Empty(t, f.audit.events)
}

func TestLoginCredentialFailure(t *testing.T) {
	f := newLoginFixture(t)
	f.verifier.VerifyPasswordFunc = func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
		return &clients.VerifiedIdentity{
			Success:      false,
			ErrorCode:    "invalid_credentials",
			ErrorMessage: "Invalid login credentials",
		}, nil
	}

	_, err := f.service.Login(context.Background(), loginInput())

	var authErr *AuthFailure
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_credentials", authErr.Code)
	assert.Equal(t, "Invalid login credentials", authErr.Message)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	require.Len(t, f.audit.attempts, 1)
	attempt := f.audit.attempts[0]
	assert.Equal(t, models.ActionLoginFailed, attempt.Action)
	assert.False(t, attempt.Success)
	assert.Nil(t, attempt.AccountID)
	require.NotNil(t, attempt.ErrorCode)
	assert.Equal(t, "invalid_credentials", *attempt.ErrorCode)

	// low risk: no security event for an isolated failure
	assert.Empty(t, f.audit.events)
}

func TestLoginCredentialFailureAtElevatedRisk(t *testing.T) {
	f := newLoginFixture(t)
	now := time.Now()
	f.riskStore.CountFailuresByIPFunc = windowCounts(now, 0, 0, 2, 25)
	f.verifier.VerifyPasswordFunc = func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
		return &clients.VerifiedIdentity{Success: false, ErrorCode: "invalid_credentials", ErrorMessage: "Invalid login credentials"}, nil
	}

	input := loginInput()
	input.CaptchaToken = "tok-123"
	_, err := f.service.Login(context.Background(), input)

	var authErr *AuthFailure
	require.ErrorAs(t, err, &authErr)

	require.Len(t, f.audit.events, 1)
	event := f.audit.events[0]
	assert.Equal(t, models.SecurityEventMultipleFailedAttempts, event.Category)
	assert.Equal(t, models.RiskMedium, event.RiskLevel)
	assert.False(t, event.Blocked)
	assert.NotEmpty(t, event.Reason)
}

func TestLoginBotTimingWritesBotDetectedEvent(t *testing.T) {
	f := newLoginFixture(t)
	now := time.Now()
	f.riskStore.RecentAttemptsByIPFunc = func(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error) {
		return uniformStamps(now, 6, 2*time.Second), nil
	}
	f.verifier.VerifyPasswordFunc = func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
		return &clients.VerifiedIdentity{Success: false, ErrorCode: "invalid_credentials", ErrorMessage: "Invalid login credentials"}, nil
	}

	input := loginInput()
	input.CaptchaToken = "tok-123"
	_, err := f.service.Login(context.Background(), input)

	var authErr *AuthFailure
	require.ErrorAs(t, err, &authErr)

	categories := f.audit.eventCategories()
	assert.Contains(t, categories, models.SecurityEventMultipleFailedAttempts)
	assert.Contains(t, categories, models.SecurityEventBotDetected)
}

func TestLoginProviderOutage(t *testing.T) {
	f := newLoginFixture(t)
	f.verifier.VerifyPasswordFunc = func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.service.Login(context.Background(), loginInput())

	assert.ErrorIs(t, err, models.ErrInternalServer)
	require.Len(t, f.audit.attempts, 1)
	assert.Equal(t, models.ActionLoginError, f.audit.attempts[0].Action)
	assert.False(t, f.audit.attempts[0].Success)
}

func TestLoginDegradedSuccessOnReconcileFailure(t *testing.T) {
	f := newLoginFixture(t)
	f.profiles.GetByAccountIDFunc = func(ctx context.Context, accountID string) (*models.Profile, error) {
		return nil, errors.New("connection refused")
	}

	result, err := f.service.Login(context.Background(), loginInput())
	require.NoError(t, err)

	// the session still stands; the response carries baseline access and an
	// explicit warning
	assert.Equal(t, "sess-token", result.SessionToken)
	assert.Equal(t, "acct-42", result.User.ID)
	assert.Equal(t, models.RoleStudent, result.User.Role)
	assert.True(t, strings.HasPrefix(result.ProfileID, "temp-"))
	assert.Equal(t, models.PermissionsForRole(models.RoleStudent), result.Permissions)
	assert.False(t, result.ProfileComplete)
	assert.NotEmpty(t, result.Warning)

	require.Len(t, f.audit.attempts, 1)
	attempt := f.audit.attempts[0]
	assert.Equal(t, models.ActionLoginDBSyncFailed, attempt.Action)
	assert.True(t, attempt.Success)
}

func TestLoginNewDeviceEventAndAlert(t *testing.T) {
	f := newLoginFixture(t)
	f.history.HasSuccessfulLoginFromDeviceFunc = func(ctx context.Context, accountID, fingerprint string) (bool, error) {
		return false, nil
	}

	result, err := f.service.Login(context.Background(), loginInput())
	require.NoError(t, err)

	assert.True(t, result.SecurityInfo.IsNewDevice)
	assert.False(t, result.SecurityInfo.IsNewLocation)

	require.Len(t, f.audit.events, 1)
	event := f.audit.events[0]
	assert.Equal(t, models.SecurityEventNewDeviceLogin, event.Category)
	assert.Equal(t, models.RiskLow, event.RiskLevel)
	require.NotNil(t, event.AccountID)
	assert.Equal(t, "acct-42", *event.AccountID)
	assert.Equal(t, "chrome on windows (desktop)", event.Metadata["device"])

	select {
	case email := <-f.alertsSent:
		assert.Equal(t, "amara@example.com", email)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a new device alert to be sent")
	}
}

func TestLoginFirstLoginSkipsAlert(t *testing.T) {
	f := newLoginFixture(t)
	f.history = knownHistoryStore(false, false, 0, nil)
	f.profiles.GetByAccountIDFunc = func(ctx context.Context, accountID string) (*models.Profile, error) {
		return nil, models.ErrNotFound
	}
	f.profiles.CreateFunc = func(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
		return profile, nil
	}
	// rebuild over the replaced history store
	logger := testLogger()
	f.service = NewLoginService(
		NewRiskScorer(f.riskStore, testRiskConfig(), logger),
		NewChallengeGate(f.captcha, passingAttestation(), "development", logger),
		f.verifier,
		NewAccountReconciler(f.profiles, f.claims, 80, logger),
		NewNoveltyDetector(f.history, logger),
		NewAuditRecorder(f.audit, logger),
		&mockAlertService{
			SendNewDeviceAlertFunc: func(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error {
				f.alertsSent <- email
				return nil
			},
		},
		logger,
	)

	result, err := f.service.Login(context.Background(), loginInput())
	require.NoError(t, err)

	assert.True(t, result.SecurityInfo.IsNewDevice)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, models.SecurityEventNewDeviceLogin, f.audit.events[0].Category)

	select {
	case <-f.alertsSent:
		t.Fatal("first-ever login must not trigger a new device alert")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoginAuditOutageDoesNotBlockSuccess(t *testing.T) {
	f := newLoginFixture(t)
	f.audit.AppendAttemptFunc = func(ctx context.Context, attempt *models.LoginAttempt) error {
		return errors.New("disk full")
	}

	result, err := f.service.Login(context.Background(), loginInput())
	require.NoError(t, err)
	assert.Equal(t, "acct-42", result.User.ID)
}
