package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"go.uber.org/zap"
)

// Reconciler is satisfied by *service.ReconciliationService.
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconciliationReport, error)
}

// ReconciliationWorker compares the ledger with the platform's on-chain
// balance on a fixed interval.
type ReconciliationWorker struct {
	reconciler Reconciler
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	running    sync.WaitGroup
}

// NewReconciliationWorker constructs a worker with a default hourly interval.
func NewReconciliationWorker(reconciler Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		reconciler: reconciler,
		interval:   time.Hour,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for a run in progress to finish.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.running.Wait()
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.Start(ctx)
	}()
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if _, err := w.reconciler.Reconcile(ctx); err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("reconciliation", "success")
}
