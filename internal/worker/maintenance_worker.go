package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/service"
	"go.uber.org/zap"
)

// StaleDepositRecoverer is satisfied by *service.DepositService.
type StaleDepositRecoverer interface {
	RecoverStaleDepositClaims(ctx context.Context) (int, error)
}

// StaleWithdrawalRecoverer is satisfied by *service.WithdrawalService.
type StaleWithdrawalRecoverer interface {
	RecoverStaleWithdrawals(ctx context.Context) (*service.StaleSweepResult, error)
}

// LimitResetter is satisfied by *service.ReconciliationService.
type LimitResetter interface {
	ResetDailyLimitsIfDue(ctx context.Context, now time.Time) (bool, error)
}

// MaintenanceWorker sweeps stale claims and rolls the daily withdrawal
// window over at UTC midnight.
type MaintenanceWorker struct {
	deposits    StaleDepositRecoverer
	withdrawals StaleWithdrawalRecoverer
	limits      LimitResetter
	interval    time.Duration
	now         func() time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
	running     sync.WaitGroup
}

func NewMaintenanceWorker(deposits StaleDepositRecoverer, withdrawals StaleWithdrawalRecoverer, limits LimitResetter) *MaintenanceWorker {
	return &MaintenanceWorker{
		deposits:    deposits,
		withdrawals: withdrawals,
		limits:      limits,
		interval:    time.Minute,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *MaintenanceWorker) WithInterval(interval time.Duration) *MaintenanceWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs maintenance at the configured interval.
func (w *MaintenanceWorker) Start(ctx context.Context) {
	zap.L().Info("maintenance worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("maintenance worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("maintenance worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for a run in progress to finish.
func (w *MaintenanceWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.running.Wait()
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *MaintenanceWorker) Run(ctx context.Context) func() {
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.Start(ctx)
	}()
	return w.Stop
}

// RunOnce performs every maintenance task. A failing task does not prevent
// the others from running.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) {
	result := "success"

	if _, err := w.deposits.RecoverStaleDepositClaims(ctx); err != nil {
		result = "failed"
		zap.L().Error("stale deposit sweep failed", zap.Error(err))
	}
	if _, err := w.withdrawals.RecoverStaleWithdrawals(ctx); err != nil {
		result = "failed"
		zap.L().Error("stale withdrawal sweep failed", zap.Error(err))
	}
	if _, err := w.limits.ResetDailyLimitsIfDue(ctx, w.now()); err != nil {
		result = "failed"
		zap.L().Error("daily limit reset failed", zap.Error(err))
	}

	observability.IncrementWorkerRun("maintenance", result)
}
