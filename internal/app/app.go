package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/api"
	"github.com/ayo6706/custodial-ledger/internal/api/middleware"
	"github.com/ayo6706/custodial-ledger/internal/config"
	"github.com/ayo6706/custodial-ledger/internal/db"
	"github.com/ayo6706/custodial-ledger/internal/idempotency"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/worker"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := db.Migrate(ctx, c.Pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	platform, err := c.Platform.Get(ctx)
	if err != nil {
		return fmt.Errorf("load platform wallet: %w", err)
	}
	logger.Info("platform wallet ready", zap.String("address", platform.Address), zap.Int64("chain_id", platform.ChainID))

	withdrawalWorker := worker.NewWithdrawalWorker(c.Withdrawals).
		WithPollInterval(cfg.WithdrawalPollInterval).
		WithBatchSize(cfg.WithdrawalBatchSize).
		WithMinWait(cfg.WithdrawalMinWait)
	reconciliationWorker := worker.NewReconciliationWorker(c.Reconciler).
		WithInterval(cfg.ReconciliationInterval)
	maintenanceWorker := worker.NewMaintenanceWorker(c.Deposits, c.Withdrawals, c.Reconciler).
		WithInterval(cfg.MaintenanceInterval)

	stopWithdrawals := withdrawalWorker.Run(ctx)
	stopReconciliation := reconciliationWorker.Run(ctx)
	stopMaintenance := maintenanceWorker.Run(ctx)
	// Runs before the deferred c.Close, so workers drain while the pool is open.
	defer stopWorkers(logger, cancel, 30*time.Second, stopWithdrawals, stopReconciliation, stopMaintenance)
	logger.Info("workers started",
		zap.Duration("withdrawal_interval", cfg.WithdrawalPollInterval),
		zap.Int("withdrawal_batch", cfg.WithdrawalBatchSize),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval),
	)

	idemStore := idempotency.NewStore(c.Redis, c.Pool, cfg.IdempotencyTTL)
	svcs := api.Services{
		Ledger:      c.Ledger,
		Deposits:    c.Deposits,
		Withdrawals: c.Withdrawals,
		Reconciler:  c.Reconciler,
		Platform:    c.Platform,
		Audit:       c.Audit,
	}
	if c.WalletsEnabled {
		svcs.Wallets = c.Vault
	}
	router := api.NewRouter(cfg, logger, c.Store, c.Repo, idemStore, c.Redis, svcs)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	return nil
}

// stopWorkers lets in-flight runs finish within grace, then cancels ctx so
// they abandon their chain waits, and returns once every worker has exited.
func stopWorkers(logger *zap.Logger, cancel context.CancelFunc, grace time.Duration, stops ...func()) {
	logger.Info("stopping workers")
	done := make(chan struct{})
	go func() {
		for _, stop := range stops {
			stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("workers still busy after grace period, cancelling", zap.Duration("grace", grace))
		cancel()
		<-done
	}
	cancel()
	logger.Info("shutdown complete")
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
