package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")

	hash := txHash(1)
	env.chain.setDeposit(hash, testSenderAddress, dec("0.5"), 15)
	submitted, err := env.deposits.SubmitDeposit(ctx, user.ID, hash)
	require.NoError(t, err)
	_, err = env.deposits.ApproveDeposit(ctx, submitted.Entry.ID, uuid.New())
	require.NoError(t, err)

	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID:             user.ID,
		Amount:             dec("0.5"),
		DestinationAddress: testPayoutAddress,
		IPAddress:          "127.0.0.1",
		UserAgent:          "test",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, req.Status)

	balance, err := env.ledger.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, balance.PendingWithdrawals.Equal(dec("0.5")))
	require.True(t, balance.AvailableToWithdraw.IsZero())

	batch, err := env.withdrawals.ProcessPendingWithdrawals(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, batch.Processed)
	require.Equal(t, domain.StatusCompleted, batch.Results[0].Status)
	require.Equal(t, []string{testPayoutAddress}, env.chain.sentTo)

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.TxHash)
	require.Equal(t, batch.Results[0].TxHash, *got.TxHash)
	require.True(t, got.GasCost.Equal(dec("0.000021")))
	require.NotNil(t, got.CompletedAt)

	row := env.user(t, user.ID)
	require.True(t, row.VirtualBalance.IsZero())
	require.True(t, row.TotalWithdrawn.Equal(dec("0.5")))

	platform := env.platformRow(t)
	require.True(t, platform.DailyWithdrawalUsed.Equal(dec("0.5")))
	require.True(t, platform.UserBalances.IsZero())
	require.True(t, platform.PlatformRevenue.Equal(dec("-0.000021")))

	entries, err := env.ledger.ListEntries(ctx, user.ID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.EntryTypeWithdrawal, entries[0].Type)
	require.True(t, entries[0].BalanceBefore.Equal(dec("0.5")))
	require.True(t, entries[0].BalanceAfter.IsZero())
}

func TestWithdrawalDailyLimit(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) {
		o.policy.UserDailyLimit = dec("10")
	})
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("20"))

	_, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("7"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)
	_, err = env.withdrawals.ProcessPendingWithdrawals(ctx, 10, 0)
	require.NoError(t, err)

	_, err = env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("4"), DestinationAddress: testPayoutAddress,
	})
	var policyErr *domain.PolicyError
	require.True(t, errors.As(err, &policyErr))
	require.ErrorIs(t, err, domain.ErrUserDailyLimit)
	require.True(t, policyErr.Limit.Equal(dec("10")))
	require.True(t, policyErr.Used.Equal(dec("7")))
	require.True(t, policyErr.Remaining.Equal(dec("3")))

	_, err = env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("3"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)
}

func TestWithdrawalPolicyRejections(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) {
		o.policy.MaxRequestsPerHour = 2
		o.platformDailyLimit = dec("1.5")
	})
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("5"))

	create := func(amount string) error {
		_, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
			UserID: user.ID, Amount: dec(amount), DestinationAddress: testPayoutAddress,
		})
		return err
	}

	require.ErrorIs(t, create("6"), domain.ErrInsufficientBalance)
	require.ErrorIs(t, create("0.0001"), domain.ErrBelowMinimum)
	require.ErrorIs(t, create("2"), domain.ErrPlatformDailyLimit)
	require.NoError(t, create("1"))
	require.NoError(t, create("0.1"))
	require.ErrorIs(t, create("0.1"), domain.ErrVelocityLimit)

	_, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("1"), DestinationAddress: "not-an-address",
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("1"), DestinationAddress: testPlatformAddress,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: decimal.Zero, DestinationAddress: testPayoutAddress,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCancelWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	other := env.createUser(t, "0x5555555555555555555555555555555555555555")
	env.fund(t, user.ID, txHash(1), dec("1"))

	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	_, err = env.withdrawals.CancelWithdrawal(ctx, other.ID, req.ID)
	require.ErrorIs(t, err, domain.ErrWithdrawalNotFound)

	cancelled, err := env.withdrawals.CancelWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, cancelled.Status)
	require.Equal(t, domain.CancelledByUserReason, *cancelled.FailureReason)
	require.Equal(t, int32(0), cancelled.RetryCount)

	_, err = env.withdrawals.CancelWithdrawal(ctx, user.ID, req.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	balance, err := env.ledger.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, balance.AvailableToWithdraw.Equal(dec("1")))

	batch, err := env.withdrawals.ProcessPendingWithdrawals(ctx, 10, 0)
	require.NoError(t, err)
	require.Zero(t, batch.Processed)
	require.Empty(t, env.chain.sent)
}

func TestWithdrawalBroadcastFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.sendErr = errors.New("nonce too low")
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.Error(t, err)
	require.Equal(t, domain.StatusFailed, res.Status)

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
	require.Equal(t, int32(1), got.RetryCount)
	require.Contains(t, *got.FailureReason, "nonce too low")
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("1")))
}

func TestWithdrawalRevertChargesGas(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.waitErr = domain.ErrChainExecutionFailed
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrChainExecutionFailed)
	require.Equal(t, domain.StatusFailed, res.Status)
	require.NotEmpty(t, res.TxHash)

	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("1")))
	platform := env.platformRow(t)
	require.True(t, platform.PlatformRevenue.Equal(dec("-0.000021")))
	require.True(t, platform.TotalBalance.Equal(dec("0.999979")))
}

func TestWithdrawalTimeoutThenStaleSweepSettles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.waitErr = domain.ErrConfirmationTimeout
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	require.Equal(t, domain.StatusProcessing, res.Status)
	require.Contains(t, env.alerts.titles(), "Withdrawal awaiting confirmation")

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, got.Status)
	require.NotNil(t, got.TxHash)

	// Not stale yet: the sweep leaves it alone.
	sweep, err := env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Zero(t, sweep.Completed+sweep.Requeued+sweep.Failed+sweep.Unresolved)

	// Stale but still inside the broadcast window: left for a later sweep.
	env.backdate(t, "withdrawal_requests", req.ID)
	env.chain.setFactErr(*got.TxHash, domain.ErrNotMinedYet)
	sweep, err = env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Zero(t, sweep.Completed+sweep.Requeued+sweep.Failed+sweep.Unresolved)

	env.chain.confirm(*got.TxHash, 3)
	sweep, err = env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Completed)
	require.Len(t, env.chain.sent, 1)

	got, err = env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("0.6")))
}

func TestStaleWithdrawalWithoutHashIsRequeued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	_, err = env.pool.Exec(ctx, `UPDATE withdrawal_requests SET status = 'processing', updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, req.ID)
	require.NoError(t, err)

	sweep, err := env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Requeued)

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Empty(t, env.chain.sent)
}

func TestProcessWithdrawalRejectsForeignSigner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.withdrawals.signer = func(context.Context) (chain.TxSigner, error) {
		return staticSigner{address: common.HexToAddress(testPayoutAddress)}, nil
	}
	_, err = env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrSignerMismatch)

	row, err := env.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(req.ID))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, row.Status)
}

func TestPendingRequestsCountTowardDailyLimit(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) {
		o.policy.UserDailyLimit = dec("10")
	})
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("20"))

	_, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("6"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	_, err = env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("6"), DestinationAddress: testPayoutAddress,
	})
	var policyErr *domain.PolicyError
	require.True(t, errors.As(err, &policyErr))
	require.ErrorIs(t, err, domain.ErrUserDailyLimit)
	require.True(t, policyErr.Used.Equal(dec("6")))
	require.True(t, policyErr.Remaining.Equal(dec("4")))
}

func TestReservedTracksOutstandingWithdrawals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("2"))

	create := func(amount string) uuid.UUID {
		req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
			UserID: user.ID, Amount: dec(amount), DestinationAddress: testPayoutAddress,
		})
		require.NoError(t, err)
		return req.ID
	}

	cancelled := create("0.4")
	require.True(t, env.platformRow(t).ReservedForWithdrawals.Equal(dec("0.4")))
	_, err := env.withdrawals.CancelWithdrawal(ctx, user.ID, cancelled)
	require.NoError(t, err)
	require.True(t, env.platformRow(t).ReservedForWithdrawals.IsZero())

	completed := create("0.3")
	_, err = env.withdrawals.ProcessWithdrawal(ctx, completed)
	require.NoError(t, err)
	require.True(t, env.platformRow(t).ReservedForWithdrawals.IsZero())

	failed := create("0.2")
	env.chain.sendErr = errors.New("insufficient funds for gas")
	_, err = env.withdrawals.ProcessWithdrawal(ctx, failed)
	require.Error(t, err)
	require.True(t, env.platformRow(t).ReservedForWithdrawals.IsZero())
}

func TestWithdrawalHashPersistedBeforeSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	var stored *string
	env.chain.beforeSubmit = func(string) {
		row, err := env.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(req.ID))
		require.NoError(t, err)
		stored = row.TxHash
	}
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, res.TxHash, *stored)
}

// A worker that dies between signing and submission leaves a processing
// request with a hash the node never saw. The sweep must fail it rather than
// sign a second transfer.
func TestSignedButUnsubmittedWithdrawalIsNotRebroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	_, err = env.pool.Exec(ctx, `UPDATE withdrawal_requests SET status = 'processing', tx_hash = $2 WHERE id = $1`, req.ID, txHash(0xdead))
	require.NoError(t, err)
	env.backdateClaim(t, req.ID, time.Hour)

	batch, err := env.withdrawals.ProcessPendingWithdrawals(ctx, 10, 0)
	require.NoError(t, err)
	require.Zero(t, batch.Processed)
	require.Zero(t, env.chain.sentCount())

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
	require.Equal(t, int32(1), got.RetryCount)
	require.Contains(t, *got.FailureReason, "dropped")
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("1")))
}

func TestSubmissionErrorWithLiveTransferStillSettles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.submitErr = errors.New("i/o timeout")
	env.chain.acceptOnSubmitErr = true
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, res.Status)
	require.Equal(t, 1, env.chain.sentCount())
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("0.6")))
}

func TestSubmissionErrorUnknownToNodeFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.submitErr = errors.New("replacement transaction underpriced")
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.Error(t, err)
	require.Equal(t, domain.StatusFailed, res.Status)
	require.Zero(t, env.chain.sentCount())
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("1")))
}

func TestDroppedWithdrawalFailsAfterStaleTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.waitErr = domain.ErrConfirmationTimeout
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	require.Equal(t, domain.StatusProcessing, res.Status)

	env.chain.forget(res.TxHash)
	env.backdate(t, "withdrawal_requests", req.ID)
	sweep, err := env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Failed)

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
	require.Equal(t, int32(1), got.RetryCount)
	require.Contains(t, *got.FailureReason, "dropped")
	require.Equal(t, 1, env.chain.sentCount())
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("1")))
	require.True(t, env.platformRow(t).ReservedForWithdrawals.IsZero())
}

func TestUnminedWithdrawalFailsAfterBroadcastTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.waitErr = domain.ErrConfirmationTimeout
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)

	env.chain.setFactErr(res.TxHash, domain.ErrNotMinedYet)
	env.backdateClaim(t, req.ID, 2*time.Hour)
	sweep, err := env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Failed)
	require.Contains(t, env.alerts.titles(), "Unmined withdrawal failed")

	got, err := env.withdrawals.GetWithdrawal(ctx, user.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
	require.Contains(t, *got.FailureReason, "not mined")
}

func TestStaleWithdrawalRPCErrorIsUnresolved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	req, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	env.chain.waitErr = domain.ErrConfirmationTimeout
	res, err := env.withdrawals.ProcessWithdrawal(ctx, req.ID)
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)

	env.chain.setFactErr(res.TxHash, errors.New("502 bad gateway"))
	env.backdateClaim(t, req.ID, 2*time.Hour)
	sweep, err := env.withdrawals.RecoverStaleWithdrawals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Unresolved)
	require.Contains(t, env.alerts.titles(), "Stale withdrawal needs operator review")
}

func TestConcurrentWithdrawalProcessingSendsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "0x4444444444444444444444444444444444444444")
	env.fund(t, user.ID, txHash(1), dec("1"))
	_, err := env.withdrawals.CreateWithdrawalRequest(ctx, CreateWithdrawalInput{
		UserID: user.ID, Amount: dec("0.4"), DestinationAddress: testPayoutAddress,
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := env.withdrawals.ProcessPendingWithdrawals(ctx, 10, 0)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			processed += batch.Processed
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, processed)
	require.Equal(t, 1, env.chain.sentCount())
	require.True(t, env.user(t, user.ID).VirtualBalance.Equal(dec("0.6")))

	entries, err := env.ledger.ListEntries(ctx, user.ID, domain.EntryTypeWithdrawal, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
