package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/danharlow/trellis/internal/config"
	"github.com/danharlow/trellis/internal/models"
	pkglogger "github.com/danharlow/trellis/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// RiskQueryStore is the slice of the event-log store the scorer reads from
type RiskQueryStore interface {
	CountFailuresByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int, error)
	CountFailuresByDevice(ctx context.Context, fingerprint string, since time.Time) (int, error)
	CountSecurityEvents(ctx context.Context, categories []string, ipAddress string, since time.Time) (int, error)
	RecentAttemptsByIP(ctx context.Context, ipAddress string, since time.Time, limit int) ([]models.AttemptStamp, error)
}

// priorEventCategories are the security-event categories that feed back into
// scoring for an origin address
var priorEventCategories = []string{
	models.SecurityEventSuspiciousLogin,
	models.SecurityEventBotDetected,
	models.SecurityEventRateLimitExceeded,
}

// RiskScorer computes a risk level and CAPTCHA requirement from recent
// failure counts and a bot-timing heuristic. It never returns an error: when
// its own queries fail it fails closed, reporting medium risk with CAPTCHA
// required, so an observability outage cannot disable bot protection.
type RiskScorer struct {
	store  RiskQueryStore
	cfg    config.RiskConfig
	logger *slog.Logger
}

// NewRiskScorer creates a new RiskScorer
func NewRiskScorer(store RiskQueryStore, cfg config.RiskConfig, logger *slog.Logger) *RiskScorer {
	return &RiskScorer{store: store, cfg: cfg, logger: logger}
}

// failureCounts aggregates the window query results for one request
type failureCounts struct {
	ipShort, ipMedium, ipLong, ipDay          int
	emailShort, emailMedium, emailLong, emailDay int
	deviceShort, deviceMedium, deviceLong, deviceDay int
	priorEvents                               int
	recent                                    []models.AttemptStamp
}

// Assess scores a candidate login. All window queries are independent and are
// issued concurrently; the tiered decision runs over the joined results.
func (s *RiskScorer) Assess(ctx context.Context, email, ipAddress, fingerprint string, now time.Time) *models.RiskAssessment {
	counts, err := s.collect(ctx, email, ipAddress, fingerprint, now)
	if err != nil {
		s.logger.Error("risk analysis query failed, failing closed",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return &models.RiskAssessment{
			Level:           models.RiskMedium,
			RequiresCaptcha: true,
			Reasons:         []string{"risk analysis unavailable, requiring verification"},
		}
	}

	botPattern := detectBotTiming(counts.recent, s.cfg)
	return s.decide(counts, botPattern)
}

func (s *RiskScorer) collect(ctx context.Context, email, ipAddress, fingerprint string, now time.Time) (*failureCounts, error) {
	short := now.Add(-s.cfg.WindowShort)
	medium := now.Add(-s.cfg.WindowMedium)
	long := now.Add(-s.cfg.WindowLong)
	day := now.Add(-s.cfg.WindowDay)

	var counts failureCounts
	g, gctx := errgroup.WithContext(ctx)

	collect := func(dst *int, query func(context.Context) (int, error)) {
		g.Go(func() error {
			n, err := query(gctx)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	byIP := func(since time.Time) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return s.store.CountFailuresByIP(ctx, ipAddress, since) }
	}
	byEmail := func(since time.Time) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return s.store.CountFailuresByEmail(ctx, email, since) }
	}
	byDevice := func(since time.Time) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return s.store.CountFailuresByDevice(ctx, fingerprint, since) }
	}

	collect(&counts.ipShort, byIP(short))
	collect(&counts.ipMedium, byIP(medium))
	collect(&counts.ipLong, byIP(long))
	collect(&counts.ipDay, byIP(day))

	collect(&counts.emailShort, byEmail(short))
	collect(&counts.emailMedium, byEmail(medium))
	collect(&counts.emailLong, byEmail(long))
	collect(&counts.emailDay, byEmail(day))

	collect(&counts.deviceShort, byDevice(short))
	collect(&counts.deviceMedium, byDevice(medium))
	collect(&counts.deviceLong, byDevice(long))
	collect(&counts.deviceDay, byDevice(day))

	collect(&counts.priorEvents, func(ctx context.Context) (int, error) {
		return s.store.CountSecurityEvents(ctx, priorEventCategories, ipAddress, long)
	})

	g.Go(func() error {
		stamps, err := s.store.RecentAttemptsByIP(gctx, ipAddress, medium, s.cfg.BotTimingSampleLimit)
		if err != nil {
			return err
		}
		counts.recent = stamps
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &counts, nil
}

// decide runs the tiered decision table, top-down, first match wins. The
// thresholds are configuration; the severity ordering is the contract.
func (s *RiskScorer) decide(c *failureCounts, botPattern bool) *models.RiskAssessment {
	cfg := s.cfg
	assessment := &models.RiskAssessment{Level: models.RiskLow, BotPattern: botPattern}

	switch {
	case c.ipShort >= cfg.CriticalIPFailuresShort:
		assessment.Level = models.RiskCritical
		assessment.RequiresCaptcha = true
		assessment.AddReason(fmt.Sprintf("%d failed attempts from this address in the last %s", c.ipShort, cfg.WindowShort))

	case c.ipMedium >= cfg.HighIPFailuresMedium || c.emailMedium >= cfg.HighEmailFailuresMedium:
		assessment.Level = models.RiskHigh
		assessment.RequiresCaptcha = true
		if c.ipMedium >= cfg.HighIPFailuresMedium {
			assessment.AddReason(fmt.Sprintf("%d failed attempts from this address in the last %s", c.ipMedium, cfg.WindowMedium))
		}
		if c.emailMedium >= cfg.HighEmailFailuresMedium {
			assessment.AddReason(fmt.Sprintf("%d failed attempts for this account in the last %s", c.emailMedium, cfg.WindowMedium))
		}

	case c.ipLong >= cfg.HighIPFailuresLong || c.emailLong >= cfg.HighEmailFailuresLong || c.deviceLong >= cfg.HighDeviceFailuresLong:
		assessment.Level = models.RiskHigh
		assessment.RequiresCaptcha = true
		if c.ipLong >= cfg.HighIPFailuresLong {
			assessment.AddReason(fmt.Sprintf("%d failed attempts from this address in the last %s", c.ipLong, cfg.WindowLong))
		}
		if c.emailLong >= cfg.HighEmailFailuresLong {
			assessment.AddReason(fmt.Sprintf("%d failed attempts for this account in the last %s", c.emailLong, cfg.WindowLong))
		}
		if c.deviceLong >= cfg.HighDeviceFailuresLong {
			assessment.AddReason(fmt.Sprintf("%d failed attempts from this device in the last %s", c.deviceLong, cfg.WindowLong))
		}

	case c.ipDay >= cfg.MediumIPFailuresDay || c.priorEvents > 0 || botPattern:
		assessment.Level = models.RiskMedium
		assessment.RequiresCaptcha = true
		if c.ipDay >= cfg.MediumIPFailuresDay {
			assessment.AddReason(fmt.Sprintf("%d failed attempts from this address in the last %s", c.ipDay, cfg.WindowDay))
		}
		if c.priorEvents > 0 {
			assessment.AddReason(fmt.Sprintf("%d prior security events from this address in the last %s", c.priorEvents, cfg.WindowLong))
		}
		if botPattern {
			assessment.AddReason("attempt timing matches automated pattern")
		}

	case c.ipMedium >= cfg.MediumIPFailuresMedium || c.emailMedium >= cfg.MediumEmailFailuresMedium:
		assessment.Level = models.RiskMedium
		assessment.RequiresCaptcha = true
		if c.ipMedium >= cfg.MediumIPFailuresMedium {
			assessment.AddReason(fmt.Sprintf("%d failed attempts from this address in the last %s", c.ipMedium, cfg.WindowMedium))
		}
		if c.emailMedium >= cfg.MediumEmailFailuresMedium {
			assessment.AddReason(fmt.Sprintf("%d failed attempts for this account in the last %s", c.emailMedium, cfg.WindowMedium))
		}
	}

	return assessment
}

// detectBotTiming flags attempts arriving at suspiciously uniform, rapid
// cadence: with at least 3 inter-arrival intervals, a coefficient of
// variation below the threshold combined with a short mean interval indicates
// scripted traffic rather than a human retrying a password.
func detectBotTiming(stamps []models.AttemptStamp, cfg config.RiskConfig) bool {
	if len(stamps) < 4 {
		return false
	}

	intervals := make([]float64, 0, len(stamps)-1)
	for i := 0; i < len(stamps)-1; i++ {
		// stamps are ordered newest first
		gap := stamps[i].CreatedAt.Sub(stamps[i+1].CreatedAt).Seconds()
		intervals = append(intervals, gap)
	}

	if len(intervals) < 3 {
		return false
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return false
	}

	var variance float64
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(intervals))
	stddev := math.Sqrt(variance)

	cv := stddev / mean
	return cv < cfg.BotTimingMaxVariation && mean < cfg.BotTimingMaxMean.Seconds()
}
