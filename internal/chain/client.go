package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Backend is the subset of *ethclient.Client the ledger relies on.
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxFacts is what the ledger needs to know about a mined transaction.
type TxFacts struct {
	Hash          string
	From          string
	To            string
	Value         decimal.Decimal
	BlockNumber   uint64
	Confirmations uint64
	Success       bool
	GasUsed       uint64
	GasCost       decimal.Decimal
}

// Client answers chain questions for the deposit and withdrawal pipelines.
// A Client without a backend reports domain.ErrRPCNotConfigured.
type Client struct {
	backend Backend
	chainID *big.Int
}

func NewClient(backend Backend, chainID int64) *Client {
	return &Client{backend: backend, chainID: big.NewInt(chainID)}
}

// Dial connects to rpcURL. An empty URL yields an unconfigured client.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return NewClient(nil, chainID), nil
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClient(ec, chainID), nil
}

func (c *Client) Configured() bool {
	return c != nil && c.backend != nil
}

func (c *Client) ChainID() int64 {
	return c.chainID.Int64()
}

// Close releases the underlying RPC connection when there is one.
func (c *Client) Close() {
	if !c.Configured() {
		return
	}
	if ec, ok := c.backend.(*ethclient.Client); ok {
		ec.Close()
	}
}

// GetTransactionFacts looks up a transaction and its receipt. A reverted
// transaction returns its facts together with domain.ErrChainExecutionFailed.
func (c *Client) GetTransactionFacts(ctx context.Context, txHash string) (*TxFacts, error) {
	if !c.Configured() {
		return nil, domain.ErrRPCNotConfigured
	}
	hash := common.HexToHash(txHash)

	tx, pending, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrTxNotFound
		}
		return nil, fmt.Errorf("get transaction %s: %w", txHash, err)
	}
	if pending {
		return nil, domain.ErrNotMinedYet
	}

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrNotMinedYet
		}
		return nil, fmt.Errorf("get receipt %s: %w", txHash, err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, domain.ErrNotMinedYet
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender of %s: %w", txHash, err)
	}

	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head block: %w", err)
	}

	block := receipt.BlockNumber.Uint64()
	facts := &TxFacts{
		Hash:          strings.ToLower(hash.Hex()),
		From:          strings.ToLower(from.Hex()),
		Value:         domain.FromWei(tx.Value()),
		BlockNumber:   block,
		Confirmations: confirmations(head, block),
		Success:       receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:       receipt.GasUsed,
		GasCost:       gasCost(receipt, tx),
	}
	if tx.To() != nil {
		facts.To = strings.ToLower(tx.To().Hex())
	}
	if !facts.Success {
		return facts, domain.ErrChainExecutionFailed
	}
	return facts, nil
}

// GetBalance returns the native balance of address at the latest block.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !c.Configured() {
		return decimal.Zero, domain.ErrRPCNotConfigured
	}
	if !common.IsHexAddress(address) {
		return decimal.Zero, domain.ErrInvalidAddress
	}
	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance of %s: %w", address, err)
	}
	return domain.FromWei(wei), nil
}

func confirmations(head, block uint64) uint64 {
	if head < block {
		return 0
	}
	return head - block + 1
}

func gasCost(receipt *types.Receipt, tx *types.Transaction) decimal.Decimal {
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = tx.GasPrice()
	}
	if price == nil {
		return decimal.Zero
	}
	used := new(big.Int).SetUint64(receipt.GasUsed)
	return domain.FromWei(new(big.Int).Mul(used, price))
}
