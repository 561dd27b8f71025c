package services

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// LoginHistoryStore is the slice of the event-log store used for novelty
// detection over prior successful logins
type LoginHistoryStore interface {
	HasSuccessfulLoginFromDevice(ctx context.Context, accountID, fingerprint string) (bool, error)
	HasSuccessfulLoginFromIP(ctx context.Context, accountID, ipAddress string) (bool, error)
	CountSuccessfulLogins(ctx context.Context, accountID string) (int, error)
	LastSuccessfulLoginIP(ctx context.Context, accountID string) (*string, error)
}

// NoveltyReport describes whether a successful login came from a previously
// unseen device and/or network origin
type NoveltyReport struct {
	IsNewDevice       bool
	IsNewLocation     bool
	PriorSuccessCount int
	LastKnownIP       *string
}

// NoveltyDetector checks successful logins against the account's login
// history. It must run before the current attempt's own audit record is
// written, or novelty would always read as false.
type NoveltyDetector struct {
	store  LoginHistoryStore
	logger *slog.Logger
}

// NewNoveltyDetector creates a new NoveltyDetector
func NewNoveltyDetector(store LoginHistoryStore, logger *slog.Logger) *NoveltyDetector {
	return &NoveltyDetector{store: store, logger: logger}
}

// Detect runs the device and location history lookups concurrently. On query
// failure it fails safe: unknown history is treated as novel, so the outage
// triggers extra logging rather than suppressing it.
func (d *NoveltyDetector) Detect(ctx context.Context, accountID, fingerprint, ipAddress string) NoveltyReport {
	var (
		seenDevice bool
		seenIP     bool
		priorCount int
		lastIP     *string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		seenDevice, err = d.store.HasSuccessfulLoginFromDevice(gctx, accountID, fingerprint)
		return err
	})
	g.Go(func() error {
		var err error
		seenIP, err = d.store.HasSuccessfulLoginFromIP(gctx, accountID, ipAddress)
		return err
	})
	g.Go(func() error {
		var err error
		priorCount, err = d.store.CountSuccessfulLogins(gctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		lastIP, err = d.store.LastSuccessfulLoginIP(gctx, accountID)
		return err
	})

	if err := g.Wait(); err != nil {
		d.logger.Warn("novelty detection query failed, treating login as novel",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return NoveltyReport{IsNewDevice: true, IsNewLocation: true}
	}

	return NoveltyReport{
		IsNewDevice:       !seenDevice,
		IsNewLocation:     !seenIP,
		PriorSuccessCount: priorCount,
		LastKnownIP:       lastIP,
	}
}
