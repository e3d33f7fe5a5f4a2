package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TxSigner is implemented by keyvault.Signer.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// RecordFunc persists the hash of a signed transfer. It runs before the
// transfer is submitted; an error aborts the send.
type RecordFunc func(ctx context.Context, txHash string) error

// Broadcaster sends plain value transfers and waits for them to settle.
type Broadcaster struct {
	client       *Client
	lock         *SignerLock
	maxGasPrice  *big.Int
	pollInterval time.Duration
}

type BroadcasterOption func(*Broadcaster)

// WithMaxGasPriceGwei caps the node-suggested gas price. Zero disables the cap.
func WithMaxGasPriceGwei(gwei int64) BroadcasterOption {
	return func(b *Broadcaster) {
		if gwei > 0 {
			b.maxGasPrice = new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
		}
	}
}

func WithPollInterval(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func NewBroadcaster(client *Client, lock *SignerLock, opts ...BroadcasterOption) *Broadcaster {
	if lock == nil {
		lock = NewSignerLock(nil, 0)
	}
	b := &Broadcaster{
		client:       client,
		lock:         lock,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendValue signs and submits a transfer of amount to the address to. Sends
// from the same signer are serialized so nonces are never reused.
//
// record, when set, receives the signed hash before submission. A failed
// submission still returns the hash so the caller can ask the node whether
// the transfer was accepted anyway.
func (b *Broadcaster) SendValue(ctx context.Context, signer TxSigner, to string, amount decimal.Decimal, record RecordFunc) (string, error) {
	if !b.client.Configured() {
		return "", domain.ErrRPCNotConfigured
	}
	if !common.IsHexAddress(to) {
		return "", domain.ErrInvalidAddress
	}
	if err := domain.ValidateAmount(amount); err != nil {
		return "", err
	}

	release, err := b.lock.Acquire(ctx, signer.Address())
	if err != nil {
		return "", err
	}
	defer release()

	backend := b.client.backend
	nonce, err := backend.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return "", fmt.Errorf("get pending nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	if b.maxGasPrice != nil && gasPrice.Cmp(b.maxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(b.maxGasPrice)
	}

	recipient := common.HexToAddress(to)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      domain.NativeTransferGas,
		To:       &recipient,
		Value:    domain.ToWei(amount),
	})
	signed, err := signer.SignTx(tx)
	if err != nil {
		return "", err
	}
	hash := strings.ToLower(signed.Hash().Hex())
	if record != nil {
		if err := record(ctx, hash); err != nil {
			return "", fmt.Errorf("record signed transfer: %w", err)
		}
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return hash, fmt.Errorf("send transaction: %w", err)
	}

	zap.L().Info("value transfer broadcast",
		zap.String("tx_hash", hash),
		zap.String("from", signer.Address().Hex()),
		zap.String("to", recipient.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("amount", amount.String()),
	)
	return hash, nil
}

// WaitForConfirmations polls until txHash has at least n confirmations or
// timeout elapses. A reverted transaction returns its facts with
// domain.ErrChainExecutionFailed.
func (b *Broadcaster) WaitForConfirmations(ctx context.Context, txHash string, n uint64, timeout time.Duration) (*TxFacts, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		facts, err := b.client.GetTransactionFacts(ctx, txHash)
		switch {
		case err == nil && facts.Confirmations >= n:
			return facts, nil
		case errors.Is(err, domain.ErrChainExecutionFailed):
			return facts, err
		case errors.Is(err, domain.ErrRPCNotConfigured):
			return nil, err
		case err == nil, errors.Is(err, domain.ErrNotMinedYet), errors.Is(err, domain.ErrTxNotFound):
		case ctx.Err() != nil:
		default:
			zap.L().Warn("confirmation poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", domain.ErrConfirmationTimeout, txHash)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
