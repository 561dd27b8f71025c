package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
)

// Shared mocks for service tests. Each mock exposes one Func field per
// interface method; unset fields panic, which keeps unexpected calls loud.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRiskQueryStore struct {
	CountFailuresByIPFunc     func(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountFailuresByEmailFunc  func(ctx context.Context, email string, since time.Time) (int, error)
	CountFailuresByDeviceFunc func(ctx context.Context, fingerprint string, since time.Time) (int, error)
	CountSecurityEventsFunc   func(ctx context.Context, categories []string, ipAddress string, since time.Time) (int, error)
	RecentAttemptsByIPFunc    func(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error)
}

func (m *mockRiskQueryStore) CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	return m.CountFailuresByIPFunc(ctx, ipAddress, since)
}

func (m *mockRiskQueryStore) CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	return m.CountFailuresByEmailFunc(ctx, email, since)
}

func (m *mockRiskQueryStore) CountFailuresByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return m.CountFailuresByDeviceFunc(ctx, fingerprint, since)
}

func (m *mockRiskQueryStore) CountSecurityEvents(ctx context.Context, categories []string, ipAddress string, since time.Time) (int, error) {
	return m.CountSecurityEventsFunc(ctx, categories, ipAddress, since)
}

func (m *mockRiskQueryStore) RecentAttemptsByIP(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error) {
	return m.RecentAttemptsByIPFunc(ctx, ipAddress, since, limit)
}

// quietRiskStore returns a store reporting no failures and no history
func quietRiskStore() *mockRiskQueryStore {
	return &mockRiskQueryStore{
		CountFailuresByIPFunc: func(ctx context.Context, ipAddress string, since time.Time) (int, error) {
			return 0, nil
		},
		CountFailuresByEmailFunc: func(ctx context.Context, email string, since time.Time) (int, error) {
			return 0, nil
		},
		CountFailuresByDeviceFunc: func(ctx context.Context, fingerprint string, since time.Time) (int, error) {
			return 0, nil
		},
		CountSecurityEventsFunc: func(ctx context.Context, categories []string, ipAddress string, since time.Time) (int, error) {
			return 0, nil
		},
		RecentAttemptsByIPFunc: func(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error) {
			return nil, nil
		},
	}
}

type mockProfileStore struct {
	GetByAccountIDFunc func(ctx context.Context, accountID string) (*models.Profile, error)
	CreateFunc         func(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	UpdateFunc         func(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error)
}

func (m *mockProfileStore) GetByAccountID(ctx context.Context, accountID string) (*models.Profile, error) {
	return m.GetByAccountIDFunc(ctx, accountID)
}

func (m *mockProfileStore) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	return m.CreateFunc(ctx, profile)
}

func (m *mockProfileStore) Update(ctx context.Context, accountID string, patch models.ProfileUpdate) (*models.Profile, error) {
	return m.UpdateFunc(ctx, accountID, patch)
}

type mockClaimsPusher struct {
	PushSessionClaimsFunc func(ctx context.Context, accountID string, claims models.SessionClaims) error
}

func (m *mockClaimsPusher) PushSessionClaims(ctx context.Context, accountID string, claims models.SessionClaims) error {
	return m.PushSessionClaimsFunc(ctx, accountID, claims)
}

type mockLoginHistoryStore struct {
	HasSuccessfulLoginFromDeviceFunc func(ctx context.Context, accountID, fingerprint string) (bool, error)
	HasSuccessfulLoginFromIPFunc     func(ctx context.Context, accountID, ipAddress string) (bool, error)
	CountSuccessfulLoginsFunc        func(ctx context.Context, accountID string) (int, error)
	LastSuccessfulLoginIPFunc        func(ctx context.Context, accountID string) (*string, error)
}

func (m *mockLoginHistoryStore) HasSuccessfulLoginFromDevice(ctx context.Context, accountID, fingerprint string) (bool, error) {
	return m.HasSuccessfulLoginFromDeviceFunc(ctx, accountID, fingerprint)
}

func (m *mockLoginHistoryStore) HasSuccessfulLoginFromIP(ctx context.Context, accountID, ipAddress string) (bool, error) {
	return m.HasSuccessfulLoginFromIPFunc(ctx, accountID, ipAddress)
}

func (m *mockLoginHistoryStore) CountSuccessfulLogins(ctx context.Context, accountID string) (int, error) {
	return m.CountSuccessfulLoginsFunc(ctx, accountID)
}

func (m *mockLoginHistoryStore) LastSuccessfulLoginIP(ctx context.Context, accountID string) (*string, error) {
	return m.LastSuccessfulLoginIPFunc(ctx, accountID)
}

// capturingAuditStore records everything appended to it
type capturingAuditStore struct {
	attempts []*models.LoginAttempt
	events   []*models.SecurityEvent

	AppendAttemptFunc       func(ctx context.Context, attempt *models.LoginAttempt) error
	AppendSecurityEventFunc func(ctx context.Context, event *models.SecurityEvent) error
}

func (m *capturingAuditStore) AppendAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.attempts = append(m.attempts, attempt)
	if m.AppendAttemptFunc != nil {
		return m.AppendAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *capturingAuditStore) AppendSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	m.events = append(m.events, event)
	if m.AppendSecurityEventFunc != nil {
		return m.AppendSecurityEventFunc(ctx, event)
	}
	return nil
}

func (m *capturingAuditStore) eventCategories() []string {
	var out []string
	for _, e := range m.events {
		out = append(out, e.Category)
	}
	return out
}

type mockCaptchaVerifier struct {
	VerifyFunc func(ctx context.Context, token, action, remoteIP string) (*clients.CaptchaResult, error)
	calls      int
}

func (m *mockCaptchaVerifier) Verify(ctx context.Context, token, action, remoteIP string) (*clients.CaptchaResult, error) {
	m.calls++
	return m.VerifyFunc(ctx, token, action, remoteIP)
}

type mockAttestationChecker struct {
	CheckForActionFunc func(ctx context.Context, action string) (bool, error)
}

func (m *mockAttestationChecker) CheckForAction(ctx context.Context, action string) (bool, error) {
	return m.CheckForActionFunc(ctx, action)
}

type mockCredentialVerifier struct {
	VerifyPasswordFunc func(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error)
	calls              int
}

func (m *mockCredentialVerifier) VerifyPassword(ctx context.Context, email, password string) (*clients.VerifiedIdentity, error) {
	m.calls++
	return m.VerifyPasswordFunc(ctx, email, password)
}

type mockAlertService struct {
	SendNewDeviceAlertFunc func(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error
}

func (m *mockAlertService) SendNewDeviceAlert(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error {
	return m.SendNewDeviceAlertFunc(ctx, email, firstName, ipAddress, deviceDescription, at)
}
