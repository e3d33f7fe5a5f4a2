package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendValueBuildsCappedTransfer(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7
	backend.gasPrice = big.NewInt(500_000_000_000)
	b := NewBroadcaster(NewClient(backend, testChainID), nil, WithMaxGasPriceGwei(100))

	hash, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.25"), nil)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	sent := backend.sent[0]
	require.Equal(t, hash, lowerHex(sent.Hash().Hex()))
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, domain.NativeTransferGas, sent.Gas())
	require.Equal(t, big.NewInt(100_000_000_000), sent.GasPrice())
	require.Equal(t, domain.ToWei(decimal.RequireFromString("0.25")), sent.Value())
	require.Equal(t, platformAddr, *sent.To())
}

func TestSendValueRecordsHashBeforeSubmitting(t *testing.T) {
	backend := newFakeBackend()
	b := NewBroadcaster(NewClient(backend, testChainID), nil)

	var recorded string
	hash, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.1"),
		func(_ context.Context, txHash string) error {
			require.Empty(t, backend.sent, "record must run before submission")
			recorded = txHash
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, hash, recorded)
	require.Len(t, backend.sent, 1)

	_, err = b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.1"),
		func(context.Context, string) error { return errors.New("db down") })
	require.Error(t, err)
	require.Len(t, backend.sent, 1, "a transfer whose hash was not recorded must not be submitted")
}

func TestSendValueReturnsHashWhenSubmissionFails(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("connection reset")
	b := NewBroadcaster(NewClient(backend, testChainID), nil)

	var recorded string
	hash, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.1"),
		func(_ context.Context, txHash string) error { recorded = txHash; return nil })
	require.Error(t, err)
	require.NotEmpty(t, hash)
	require.Equal(t, recorded, hash)
}

func TestSendValueValidates(t *testing.T) {
	b := NewBroadcaster(NewClient(newFakeBackend(), testChainID), nil)
	_, err := b.SendValue(context.Background(), keySigner{t: t}, "bad", decimal.RequireFromString("1"), nil)
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	_, err = b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.Zero, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	unconfigured := NewBroadcaster(NewClient(nil, testChainID), nil)
	_, err = unconfigured.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("1"), nil)
	require.ErrorIs(t, err, domain.ErrRPCNotConfigured)
}

func TestConcurrentSendsUseDistinctNonces(t *testing.T) {
	backend := newFakeBackend()
	b := NewBroadcaster(NewClient(backend, testChainID), NewSignerLock(nil, 0))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.01"), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range backend.sent {
		require.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	require.Len(t, seen, 5)
}

func TestWaitForConfirmations(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 50
	backend.headStep = 1
	backend.mineOnSend = true
	b := NewBroadcaster(NewClient(backend, testChainID), nil, WithPollInterval(time.Millisecond))

	hash, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.5"), nil)
	require.NoError(t, err)

	facts, err := b.WaitForConfirmations(context.Background(), hash, 3, time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, facts.Confirmations, uint64(3))
	require.True(t, facts.GasCost.IsPositive())
}

func TestWaitForConfirmationsTimesOut(t *testing.T) {
	backend := newFakeBackend()
	b := NewBroadcaster(NewClient(backend, testChainID), nil, WithPollInterval(time.Millisecond))

	hash, err := b.SendValue(context.Background(), keySigner{t: t}, platformAddr.Hex(), decimal.RequireFromString("0.5"), nil)
	require.NoError(t, err)

	_, err = b.WaitForConfirmations(context.Background(), hash, 3, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
}

func TestSignerLockHonoursContext(t *testing.T) {
	lock := NewSignerLock(nil, 0)
	addr := platformAddr

	release, err := lock.Acquire(context.Background(), addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx, addr)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	again, err := lock.Acquire(context.Background(), addr)
	require.NoError(t, err)
	again()
}

func lowerHex(s string) string {
	return strings.ToLower(s)
}
