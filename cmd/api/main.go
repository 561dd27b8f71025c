package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/config"
	"github.com/danharlow/trellis/internal/database"
	"github.com/danharlow/trellis/internal/handlers"
	"github.com/danharlow/trellis/internal/repositories"
	"github.com/danharlow/trellis/internal/routes"
	"github.com/danharlow/trellis/internal/services"
	pkghttp "github.com/danharlow/trellis/pkg/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.Migrate(migrateCtx); err != nil {
		return err
	}

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	loginEvents := repositories.NewLoginEventRepository(db)
	profiles := repositories.NewProfileRepository(db)

	identity := clients.NewIdentityClient(cfg.Identity.BaseURL, cfg.Identity.ServiceKey, logger)
	captcha := clients.NewCaptchaClient(cfg.Captcha.VerifyURL, cfg.Captcha.Secret, logger)

	var attestationURL string
	if cfg.Attestation.Enabled {
		attestationURL = cfg.Attestation.URL
	}
	attestation := clients.NewAttestationClient(attestationURL, logger)

	var alerts services.AlertService
	if cfg.Email.Enabled {
		sesAlerts, err := services.NewAWSSESAlertService(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.SupportURL, logger)
		if err != nil {
			return err
		}
		alerts = sesAlerts
	}

	loginService := services.NewLoginService(
		services.NewRiskScorer(loginEvents, cfg.Risk, logger),
		services.NewChallengeGate(captcha, attestation, cfg.Server.Env, logger),
		identity,
		services.NewAccountReconciler(profiles, identity, cfg.Risk.StudentCompletionThreshold, logger),
		services.NewNoveltyDetector(loginEvents, logger),
		services.NewAuditRecorder(loginEvents, logger),
		alerts,
		logger,
	)

	authHandler := handlers.NewAuthHandler(loginService, cfg.Session, ipConfig, cfg.Server.Env, logger)
	healthHandler := handlers.NewHealthHandler(db, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes.Router(authHandler, healthHandler, ipConfig, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(server config.ServerConfig) *slog.Logger {
	var level slog.Level
	switch server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if server.Env == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
