package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lenspay/internal/admin"
	"lenspay/internal/audit"
	"lenspay/internal/config"
	"lenspay/internal/db"
	"lenspay/internal/jobs"
	"lenspay/internal/ledger"
	"lenspay/internal/logger"
	"lenspay/internal/payout"
	"lenspay/internal/server"
	"lenspay/internal/settings"
	"lenspay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Info("Starting LensPay settlement service")

	logger.Info("Connecting to database...")
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	var emitter audit.Emitter
	if cfg.RedisAddr != "" {
		redisEmitter := audit.NewRedisEmitter(cfg.RedisAddr, cfg.AuditQueueKey)
		defer redisEmitter.Close()
		emitter = redisEmitter
		logger.Info("Audit emitter using redis queue", "queue", cfg.AuditQueueKey)
	} else {
		emitter = audit.LogEmitter{}
		logger.Info("Audit emitter using application log")
	}

	ledgerRepo := ledger.NewRepository(database)
	webhookRepo := webhook.NewRepository(database)
	settingsRepo := settings.NewRepository(database)
	payoutRepo := payout.NewRepository(database)

	provider := payout.NewHTTPProvider(
		cfg.PayoutProviderURL,
		cfg.PayoutProviderToken,
		cfg.PayoutProviderTimeout,
	)

	payoutService := payout.NewService(payoutRepo, settingsRepo, provider, cfg.PayoutProviderTimeout)
	webhookService := webhook.NewService(webhookRepo, ledgerRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scheduler *jobs.Scheduler
	if cfg.SchedulerEnable {
		scheduler = jobs.NewScheduler(payoutService, cfg)
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatalf("Failed to start scheduler: %v", err)
		}
	} else {
		logger.Info("Scheduler disabled")
	}

	srv := server.New(cfg, server.Deps{
		Webhook: webhook.NewHandler(webhookService),
		Admin:   admin.NewHandler(payoutService, settingsRepo, ledgerRepo, emitter),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
