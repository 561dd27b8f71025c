package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
	pkglogger "github.com/danharlow/trellis/pkg/logger"
	"github.com/google/uuid"
)

// CredentialVerifier validates credentials against the identity provider
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error)
}

// AuthFailure carries the provider-reported credential failure to the caller
type AuthFailure struct {
	Code    string
	Message string
}

func (e *AuthFailure) Error() string { return e.Message }

func (e *AuthFailure) Unwrap() error { return models.ErrUnauthorized }

// LoginInput is the normalized login request
type LoginInput struct {
	Email          string
	Password       string
	CaptchaToken   string
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
}

// UserSummary is the user portion of a successful login response
type UserSummary struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	FirstName     string  `json:"firstName"`
	LastName      string  `json:"lastName"`
	Role          string  `json:"role"`
	EmailVerified bool    `json:"emailVerified"`
	AvatarURL     *string `json:"avatarUrl,omitempty"`
}

// SecurityInfo is the risk/security metadata echoed on success
type SecurityInfo struct {
	RiskLevel       models.RiskLevel `json:"riskLevel"`
	CaptchaVerified bool             `json:"captchaVerified"`
	IsNewDevice     bool             `json:"isNewDevice"`
	IsNewLocation   bool             `json:"isNewLocation"`
}

// LoginResult is a successful (possibly degraded) login outcome
type LoginResult struct {
	SessionToken    string       `json:"-"` // delivered via cookie, never in the body
	User            UserSummary  `json:"user"`
	ProfileID       string       `json:"profileId"`
	Permissions     []string     `json:"permissions"`
	ProfileComplete bool         `json:"profileComplete"`
	SecurityInfo    SecurityInfo `json:"securityInfo"`
	Warning         string       `json:"warning,omitempty"`
}

// LoginService sequences risk scoring, the challenge gate, credential
// verification, reconciliation, novelty detection and audit recording into
// the end-to-end login flow.
type LoginService struct {
	scorer     *RiskScorer
	gate       *ChallengeGate
	verifier   CredentialVerifier
	reconciler *AccountReconciler
	novelty    *NoveltyDetector
	audit      *AuditRecorder
	alerts     AlertService // optional; nil disables new-device emails
	logger     *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(
	scorer *RiskScorer,
	gate *ChallengeGate,
	verifier CredentialVerifier,
	reconciler *AccountReconciler,
	novelty *NoveltyDetector,
	audit *AuditRecorder,
	alerts AlertService,
	logger *slog.Logger,
) *LoginService {
	return &LoginService{
		scorer:     scorer,
		gate:       gate,
		verifier:   verifier,
		reconciler: reconciler,
		novelty:    novelty,
		audit:      audit,
		alerts:     alerts,
		logger:     logger,
	}
}

// Login runs the full pipeline for one request. Returned sentinel errors:
// models.ErrCaptchaRequired, models.ErrCaptchaFailed, *AuthFailure (wraps
// models.ErrUnauthorized), models.ErrInternalServer.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	fingerprint := DeriveFingerprint(input.UserAgent, input.IPAddress, input.AcceptLanguage)
	assessment := s.scorer.Assess(ctx, input.Email, input.IPAddress, fingerprint, time.Now())

	captchaVerified, err := s.gate.Check(ctx, assessment, input.CaptchaToken, input.IPAddress)
	if err != nil {
		if errors.Is(err, models.ErrCaptchaRequired) {
			s.recordGateShortCircuit(ctx, input, fingerprint, assessment)
		}
		return nil, err
	}

	ident, err := s.verifier.VerifyPassword(ctx, input.Email, input.Password)
	if err != nil {
		s.logger.Error("credential verification errored",
			slog.String("email", pkglogger.SanitizedEmail(input.Email)),
			slog.Any("error", err))
		s.recordAttempt(ctx, input, fingerprint, nil, models.ActionLoginError, false,
			strPtr("provider_error"), strPtr(err.Error()), assessment, captchaVerified)
		return nil, models.ErrInternalServer
	}

	if !ident.Success {
		s.recordFailure(ctx, input, fingerprint, assessment, ident, captchaVerified)
		return nil, &AuthFailure{Code: ident.ErrorCode, Message: ident.ErrorMessage}
	}

	// Credentials verified: run the rest to completion even if the client
	// disconnects, so the audit trail stays consistent
	ctx = context.WithoutCancel(ctx)

	// Novelty detection must read history before this attempt's own record
	// is written. Reconciliation is independent of it; the two run together.
	var (
		wg       sync.WaitGroup
		recon    *ReconcileResult
		reconErr error
		report   NoveltyReport
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		recon, reconErr = s.reconciler.Reconcile(ctx, ident)
	}()
	go func() {
		defer wg.Done()
		report = s.novelty.Detect(ctx, ident.AccountID, fingerprint, input.IPAddress)
	}()
	wg.Wait()

	securityInfo := SecurityInfo{
		RiskLevel:       assessment.Level,
		CaptchaVerified: captchaVerified,
		IsNewDevice:     report.IsNewDevice,
		IsNewLocation:   report.IsNewLocation,
	}

	if reconErr != nil {
		// Degraded success: the credential check stands, the user gets a
		// session with baseline permissions and an explicit warning
		s.logger.Error("account reconciliation failed, degrading login response",
			slog.String("account_id", ident.AccountID),
			slog.Any("error", reconErr))
		s.recordAttempt(ctx, input, fingerprint, &ident.AccountID, models.ActionLoginDBSyncFailed, true,
			strPtr("db_sync_failed"), strPtr(reconErr.Error()), assessment, captchaVerified)

		firstName, lastName := splitDisplayName(ident.DisplayName)
		return &LoginResult{
			SessionToken: ident.SessionToken,
			User: UserSummary{
				ID:            ident.AccountID,
				Email:         ident.Email,
				FirstName:     firstName,
				LastName:      lastName,
				Role:          models.RoleStudent,
				EmailVerified: ident.EmailVerified,
				AvatarURL:     ident.AvatarURL,
			},
			ProfileID:    "temp-" + uuid.NewString(),
			Permissions:  models.PermissionsForRole(models.RoleStudent),
			SecurityInfo: securityInfo,
			Warning:      "Your profile could not be loaded. Some features may be unavailable until you sign in again.",
		}, nil
	}

	s.recordAttempt(ctx, input, fingerprint, &ident.AccountID, models.ActionLoginSuccess, true,
		nil, nil, assessment, captchaVerified)

	if report.IsNewDevice {
		s.recordNewDevice(ctx, input, fingerprint, ident, recon, report)
	}

	profile := recon.Profile
	return &LoginResult{
		SessionToken: ident.SessionToken,
		User: UserSummary{
			ID:            profile.AccountID,
			Email:         profile.Email,
			FirstName:     profile.FirstName,
			LastName:      profile.LastName,
			Role:          profile.Role,
			EmailVerified: profile.EmailVerified,
			AvatarURL:     profile.AvatarURL,
		},
		ProfileID:       profile.AccountID,
		Permissions:     recon.Claims.Permissions,
		ProfileComplete: recon.Claims.ProfileComplete,
		SecurityInfo:    securityInfo,
	}, nil
}

// recordAttempt writes one login attempt record with the standard metadata
func (s *LoginService) recordAttempt(ctx context.Context, input LoginInput, fingerprint string,
	accountID *string, action string, success bool, errorCode, errorMessage *string,
	assessment *models.RiskAssessment, captchaVerified bool) {

	s.audit.RecordAttempt(ctx, &models.LoginAttempt{
		AccountID:         accountID,
		Category:          models.EventCategoryLogin,
		Action:            action,
		Email:             input.Email,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: fingerprint,
		Success:           success,
		ErrorCode:         errorCode,
		ErrorMessage:      errorMessage,
		Metadata: models.Metadata{
			"risk_level":       assessment.Level.String(),
			"captcha_verified": captchaVerified,
		},
	})
}

// recordFailure audits a rejected credential check and the security events
// its risk context warrants
func (s *LoginService) recordFailure(ctx context.Context, input LoginInput, fingerprint string,
	assessment *models.RiskAssessment, ident *clients.VerifiedIdentity, captchaVerified bool) {

	s.recordAttempt(ctx, input, fingerprint, nil, models.ActionLoginFailed, false,
		strPtr(ident.ErrorCode), strPtr(ident.ErrorMessage), assessment, captchaVerified)

	if assessment.Level.AtLeast(models.RiskMedium) {
		s.audit.RecordSecurityEvent(ctx, &models.SecurityEvent{
			ID:                uuid.New(),
			Category:          models.SecurityEventMultipleFailedAttempts,
			RiskLevel:         assessment.Level,
			IPAddress:         input.IPAddress,
			UserAgent:         input.UserAgent,
			DeviceFingerprint: fingerprint,
			Reason:            firstReason(assessment),
			Metadata:          models.Metadata{"email": pkglogger.SanitizedEmail(input.Email)},
		})
	}

	if assessment.BotPattern {
		s.recordBotDetected(ctx, input, fingerprint, assessment)
	}
}

// recordGateShortCircuit audits a CAPTCHA-required short-circuit. No attempt
// record is written because no credential check ran; a security event is
// written only for high-or-worse assessments.
func (s *LoginService) recordGateShortCircuit(ctx context.Context, input LoginInput, fingerprint string,
	assessment *models.RiskAssessment) {

	if assessment.Level.AtLeast(models.RiskHigh) {
		s.audit.RecordSecurityEvent(ctx, &models.SecurityEvent{
			ID:                uuid.New(),
			Category:          models.SecurityEventRateLimitExceeded,
			RiskLevel:         assessment.Level,
			IPAddress:         input.IPAddress,
			UserAgent:         input.UserAgent,
			DeviceFingerprint: fingerprint,
			Blocked:           true,
			Reason:            firstReason(assessment),
			Metadata:          models.Metadata{"email": pkglogger.SanitizedEmail(input.Email)},
		})
	}

	if assessment.BotPattern {
		s.recordBotDetected(ctx, input, fingerprint, assessment)
	}
}

func (s *LoginService) recordBotDetected(ctx context.Context, input LoginInput, fingerprint string,
	assessment *models.RiskAssessment) {

	s.audit.RecordSecurityEvent(ctx, &models.SecurityEvent{
		ID:                uuid.New(),
		Category:          models.SecurityEventBotDetected,
		RiskLevel:         assessment.Level,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: fingerprint,
		Reason:            "attempt timing matches automated pattern",
	})
}

// recordNewDevice writes the new-device security event and, when alerting is
// configured, fires the notification email without blocking the response
func (s *LoginService) recordNewDevice(ctx context.Context, input LoginInput, fingerprint string,
	ident *clients.VerifiedIdentity, recon *ReconcileResult, report NoveltyReport) {

	metadata := models.Metadata{
		"device":              DescribeClient(input.UserAgent),
		"prior_success_count": report.PriorSuccessCount,
	}
	if report.LastKnownIP != nil {
		metadata["last_known_ip"] = *report.LastKnownIP
	}

	s.audit.RecordSecurityEvent(ctx, &models.SecurityEvent{
		ID:                uuid.New(),
		Category:          models.SecurityEventNewDeviceLogin,
		RiskLevel:         models.RiskLow,
		AccountID:         &ident.AccountID,
		IPAddress:         input.IPAddress,
		UserAgent:         input.UserAgent,
		DeviceFingerprint: fingerprint,
		Reason:            "successful login from a previously unseen device",
		Metadata:          metadata,
	})

	// First-ever login is not worth an alert; every device is new then
	if s.alerts == nil || report.PriorSuccessCount == 0 {
		return
	}

	email := recon.Profile.Email
	firstName := recon.Profile.FirstName
	now := time.Now()
	go func() {
		alertCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.alerts.SendNewDeviceAlert(alertCtx, email, firstName, input.IPAddress, DescribeClient(input.UserAgent), now); err != nil {
			s.logger.Error("failed to send new device alert", slog.Any("error", err))
		}
	}()
}

func firstReason(assessment *models.RiskAssessment) string {
	if len(assessment.Reasons) > 0 {
		return assessment.Reasons[0]
	}
	return ""
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
