package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testChainID = 1337

// Hardhat's first development key.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeBackend struct {
	mu       sync.Mutex
	txs      map[common.Hash]*types.Transaction
	pending  map[common.Hash]bool
	receipts map[common.Hash]*types.Receipt
	balances map[common.Address]*big.Int
	head     uint64
	// headStep advances head on every BlockNumber call.
	headStep uint64
	nonce    uint64
	gasPrice *big.Int
	sent     []*types.Transaction
	// mineOnSend records a successful receipt at the current head.
	mineOnSend bool
	sendErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		txs:      map[common.Hash]*types.Transaction{},
		pending:  map[common.Hash]bool{},
		receipts: map[common.Hash]*types.Receipt{},
		balances: map[common.Address]*big.Int{},
		gasPrice: big.NewInt(1_000_000_000),
	}
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, f.pending[hash], nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head += f.headStep
	return f.head, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[account]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	f.txs[tx.Hash()] = tx
	if f.mineOnSend {
		f.receipts[tx.Hash()] = &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			BlockNumber:       new(big.Int).SetUint64(f.head),
			GasUsed:           tx.Gas(),
			EffectiveGasPrice: tx.GasPrice(),
		}
	}
	return nil
}

// addMined stores a signed transfer mined at block with the given status.
func (f *fakeBackend) addMined(t *testing.T, to common.Address, wei *big.Int, block uint64, status uint64) *types.Transaction {
	t.Helper()
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	f.mu.Lock()
	nonce := uint64(len(f.txs))
	f.mu.Unlock()
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    wei,
	}), types.LatestSignerForChainID(big.NewInt(testChainID)), key)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Hash()] = tx
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:            status,
		BlockNumber:       new(big.Int).SetUint64(block),
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(2_000_000_000),
	}
	return tx
}

type keySigner struct {
	t *testing.T
}

func (s keySigner) Address() common.Address {
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(s.t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func (s keySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	key, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(testChainID)), key)
}
