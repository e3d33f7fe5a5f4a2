package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/service"
	"go.uber.org/zap"
)

// WithdrawalProcessor is satisfied by *service.WithdrawalService.
type WithdrawalProcessor interface {
	ProcessPendingWithdrawals(ctx context.Context, limit int, minWait time.Duration) (*service.BatchResult, error)
}

// WithdrawalWorker settles pending withdrawals in the background.
// Concurrent instances are safe: each request is claimed with a conditional update.
type WithdrawalWorker struct {
	processor    WithdrawalProcessor
	pollInterval time.Duration
	batchSize    int
	minWait      time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	running      sync.WaitGroup
}

// NewWithdrawalWorker creates a worker that polls every 30 seconds.
func NewWithdrawalWorker(processor WithdrawalProcessor) *WithdrawalWorker {
	return &WithdrawalWorker{
		processor:    processor,
		pollInterval: 30 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *WithdrawalWorker) WithPollInterval(interval time.Duration) *WithdrawalWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets how many requests one poll may settle.
func (w *WithdrawalWorker) WithBatchSize(size int) *WithdrawalWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithMinWait sets how old a request must be before it is claimed, which is
// the window users have to cancel.
func (w *WithdrawalWorker) WithMinWait(d time.Duration) *WithdrawalWorker {
	if d >= 0 {
		w.minWait = d
	}
	return w
}

// Start runs the poll loop until Stop is called or ctx is canceled.
func (w *WithdrawalWorker) Start(ctx context.Context) {
	zap.L().Info("withdrawal worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
		zap.Duration("min_wait", w.minWait),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdrawal worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdrawal worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("withdrawal batch failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the loop to exit and waits for a run in progress to finish.
func (w *WithdrawalWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.running.Wait()
}

// ProcessOnce settles a single batch immediately.
func (w *WithdrawalWorker) ProcessOnce(ctx context.Context) (*service.BatchResult, error) {
	res, err := w.processor.ProcessPendingWithdrawals(ctx, w.batchSize, w.minWait)
	if err != nil {
		observability.IncrementWorkerRun("withdrawal", "failed")
		return nil, err
	}
	observability.IncrementWorkerRun("withdrawal", "success")
	if res.Processed > 0 {
		zap.L().Info("withdrawal batch processed", zap.Int("processed", res.Processed))
	}
	return res, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *WithdrawalWorker) Run(ctx context.Context) func() {
	w.running.Add(1)
	go func() {
		defer w.running.Done()
		w.Start(ctx)
	}()
	return w.Stop
}

func (w *WithdrawalWorker) String() string {
	return fmt.Sprintf("WithdrawalWorker(interval=%v, batch=%d, min_wait=%v)", w.pollInterval, w.batchSize, w.minWait)
}
