package services

import (
	"context"
	"log/slog"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/models"
)

// captchaActionLogin is the action context CAPTCHA tokens must be minted for
const captchaActionLogin = "login"

// CaptchaVerifier verifies challenge tokens against the CAPTCHA service
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, action, remoteIP string) (*clients.CaptchaResult, error)
}

// AttestationChecker runs the independent bot-attestation check
type AttestationChecker interface {
	CheckForAction(ctx context.Context, action string) (bool, error)
}

// ChallengeGate decides whether a request may proceed to credential
// verification, and verifies supplied CAPTCHA tokens.
type ChallengeGate struct {
	captcha     CaptchaVerifier
	attestation AttestationChecker
	env         string
	logger      *slog.Logger
}

// NewChallengeGate creates a new ChallengeGate
func NewChallengeGate(captcha CaptchaVerifier, attestation AttestationChecker, env string, logger *slog.Logger) *ChallengeGate {
	return &ChallengeGate{
		captcha:     captcha,
		attestation: attestation,
		env:         env,
		logger:      logger,
	}
}

// Check applies the gate. It may escalate the assessment in place when
// attestation fails. Returns whether a CAPTCHA was actually verified, or
// models.ErrCaptchaRequired / models.ErrCaptchaFailed to short-circuit the
// request before any credential check.
func (g *ChallengeGate) Check(ctx context.Context, assessment *models.RiskAssessment, captchaToken, remoteIP string) (bool, error) {
	// Attestation failure outweighs historical counts, but only production
	// traffic is held to it: local clients have no attestation provider.
	if g.env == "production" {
		ok, err := g.attestation.CheckForAction(ctx, captchaActionLogin)
		if err != nil {
			g.logger.Warn("attestation check errored, treating as failed", slog.Any("error", err))
			ok = false
		}
		if !ok {
			assessment.Escalate(models.RiskHigh, "bot attestation check failed")
		}
	}

	if !assessment.RequiresCaptcha {
		return false, nil
	}

	if captchaToken == "" {
		return false, models.ErrCaptchaRequired
	}

	result, err := g.captcha.Verify(ctx, captchaToken, captchaActionLogin, remoteIP)
	if err != nil {
		// Fail closed: an unreachable CAPTCHA service must not wave
		// high-risk traffic through
		g.logger.Error("captcha verification errored", slog.Any("error", err))
		return false, models.ErrCaptchaFailed
	}
	if !result.Success {
		g.logger.Info("captcha verification rejected", slog.String("detail", result.ErrorDetail))
		return false, models.ErrCaptchaFailed
	}

	return true, nil
}
