package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	calls   atomic.Int32
	minWait time.Duration
	limit   int
	err     error
}

func (p *countingProcessor) ProcessPendingWithdrawals(_ context.Context, limit int, minWait time.Duration) (*service.BatchResult, error) {
	p.calls.Add(1)
	p.limit = limit
	p.minWait = minWait
	if p.err != nil {
		return nil, p.err
	}
	return &service.BatchResult{Processed: 1}, nil
}

func TestWithdrawalWorkerProcessOnce(t *testing.T) {
	p := &countingProcessor{}
	w := NewWithdrawalWorker(p).WithBatchSize(5).WithMinWait(time.Minute)

	res, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 5, p.limit)
	require.Equal(t, time.Minute, p.minWait)

	p.err = errors.New("db down")
	_, err = w.ProcessOnce(context.Background())
	require.Error(t, err)
}

func TestWithdrawalWorkerPollsUntilStopped(t *testing.T) {
	p := &countingProcessor{}
	w := NewWithdrawalWorker(p).WithPollInterval(5 * time.Millisecond)
	stop := w.Run(context.Background())

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
	stop()
}

type fakeReconciler struct {
	calls atomic.Int32
}

func (f *fakeReconciler) Reconcile(context.Context) (*models.ReconciliationReport, error) {
	f.calls.Add(1)
	return &models.ReconciliationReport{}, nil
}

func TestReconciliationWorkerRunsImmediately(t *testing.T) {
	r := &fakeReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewReconciliationWorker(r).WithInterval(time.Hour).Run(ctx)

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

type fakeMaintenance struct {
	deposits    atomic.Int32
	withdrawals atomic.Int32
	resets      atomic.Int32
	depositErr  error
}

func (f *fakeMaintenance) RecoverStaleDepositClaims(context.Context) (int, error) {
	f.deposits.Add(1)
	return 0, f.depositErr
}

func (f *fakeMaintenance) RecoverStaleWithdrawals(context.Context) (*service.StaleSweepResult, error) {
	f.withdrawals.Add(1)
	return &service.StaleSweepResult{}, nil
}

func (f *fakeMaintenance) ResetDailyLimitsIfDue(context.Context, time.Time) (bool, error) {
	f.resets.Add(1)
	return false, nil
}

func TestMaintenanceWorkerRunsEveryTask(t *testing.T) {
	f := &fakeMaintenance{depositErr: errors.New("boom")}
	w := NewMaintenanceWorker(f, f, f)

	w.RunOnce(context.Background())

	require.Equal(t, int32(1), f.deposits.Load())
	require.Equal(t, int32(1), f.withdrawals.Load())
	require.Equal(t, int32(1), f.resets.Load())
}

type blockingProcessor struct {
	entered  chan struct{}
	once     sync.Once
	release  chan struct{}
	finished atomic.Bool
}

func (p *blockingProcessor) ProcessPendingWithdrawals(context.Context, int, time.Duration) (*service.BatchResult, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	p.finished.Store(true)
	return &service.BatchResult{}, nil
}

func TestWithdrawalWorkerStopWaitsForBatch(t *testing.T) {
	p := &blockingProcessor{entered: make(chan struct{}), release: make(chan struct{})}
	stop := NewWithdrawalWorker(p).WithPollInterval(time.Millisecond).Run(context.Background())
	<-p.entered

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	isStopped := func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}
	require.Never(t, isStopped, 50*time.Millisecond, 5*time.Millisecond)

	close(p.release)
	require.Eventually(t, isStopped, time.Second, 5*time.Millisecond)
	require.True(t, p.finished.Load())
}
