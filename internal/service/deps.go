package service

import (
	"context"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/alert"
	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// QueryStore is the database access every service needs: plain reads, and
// writes that must commit together. Satisfied by *repository.Store.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// TransactionVerifier is satisfied by *chain.Client.
type TransactionVerifier interface {
	GetTransactionFacts(ctx context.Context, txHash string) (*chain.TxFacts, error)
}

// BalanceReader is satisfied by *chain.Client.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// ValueSender is satisfied by *chain.Broadcaster.
type ValueSender interface {
	SendValue(ctx context.Context, signer chain.TxSigner, to string, amount decimal.Decimal, record chain.RecordFunc) (string, error)
	WaitForConfirmations(ctx context.Context, txHash string, n uint64, timeout time.Duration) (*chain.TxFacts, error)
}

var (
	_ QueryStore          = (*repository.Store)(nil)
	_ TransactionVerifier = (*chain.Client)(nil)
	_ BalanceReader       = (*chain.Client)(nil)
	_ ValueSender         = (*chain.Broadcaster)(nil)
)

// PlatformSignerFunc returns the signer that pays out withdrawals.
type PlatformSignerFunc func(ctx context.Context) (chain.TxSigner, error)

func raise(ctx context.Context, alerter alert.Alerter, severity alert.Severity, title string, fields map[string]string) {
	observability.IncrementAlert(string(severity))
	if alerter == nil {
		return
	}
	alerter.Notify(ctx, alert.Alert{Severity: severity, Title: title, Fields: fields})
}
