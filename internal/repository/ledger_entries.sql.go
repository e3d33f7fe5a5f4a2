package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const ledgerEntryColumns = `id, type, user_id, wallet_address, amount, balance_before, balance_after, status, tx_hash, from_address, to_address, block_number, confirmations, description, failure_reason, created_at, updated_at`

func scanLedgerEntry(row pgx.Row) (LedgerEntry, error) {
	var i LedgerEntry
	err := row.Scan(
		&i.ID,
		&i.Type,
		&i.UserID,
		&i.WalletAddress,
		&i.Amount,
		&i.BalanceBefore,
		&i.BalanceAfter,
		&i.Status,
		&i.TxHash,
		&i.FromAddress,
		&i.ToAddress,
		&i.BlockNumber,
		&i.Confirmations,
		&i.Description,
		&i.FailureReason,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectLedgerEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	items := []LedgerEntry{}
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertLedgerEntry = `
INSERT INTO ledger_entries (
    id, type, user_id, wallet_address, amount, balance_before, balance_after,
    status, tx_hash, from_address, to_address, block_number, confirmations, description
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + ledgerEntryColumns

type InsertLedgerEntryParams struct {
	ID            pgtype.UUID
	Type          string
	UserID        pgtype.UUID
	WalletAddress string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        string
	TxHash        *string
	FromAddress   *string
	ToAddress     *string
	BlockNumber   *int64
	Confirmations int64
	Description   string
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, insertLedgerEntry,
		arg.ID,
		arg.Type,
		arg.UserID,
		arg.WalletAddress,
		arg.Amount,
		arg.BalanceBefore,
		arg.BalanceAfter,
		arg.Status,
		arg.TxHash,
		arg.FromAddress,
		arg.ToAddress,
		arg.BlockNumber,
		arg.Confirmations,
		arg.Description,
	))
}

const getLedgerEntry = `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE id = $1`

func (q *Queries) GetLedgerEntry(ctx context.Context, id pgtype.UUID) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntry, id))
}

const getLedgerEntryForUpdate = `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`

func (q *Queries) GetLedgerEntryForUpdate(ctx context.Context, id pgtype.UUID) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntryForUpdate, id))
}

const getLedgerEntryByTxHash = `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE tx_hash = $1`

func (q *Queries) GetLedgerEntryByTxHash(ctx context.Context, txHash string) (LedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, getLedgerEntryByTxHash, txHash))
}

const transitionLedgerEntry = `
UPDATE ledger_entries
SET status = $4, updated_at = NOW()
WHERE id = $1 AND type = $2 AND status = $3
`

type TransitionLedgerEntryParams struct {
	ID         pgtype.UUID
	Type       string
	FromStatus string
	ToStatus   string
}

// TransitionLedgerEntry is the conditional claim primitive: zero rows affected
// means another caller moved the entry first.
func (q *Queries) TransitionLedgerEntry(ctx context.Context, arg TransitionLedgerEntryParams) (int64, error) {
	result, err := q.db.Exec(ctx, transitionLedgerEntry, arg.ID, arg.Type, arg.FromStatus, arg.ToStatus)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const completeLedgerEntry = `
UPDATE ledger_entries
SET status = 'completed',
    balance_before = $2,
    balance_after = $3,
    block_number = $4,
    confirmations = $5,
    failure_reason = NULL,
    updated_at = NOW()
WHERE id = $1 AND status = 'processing'
`

type CompleteLedgerEntryParams struct {
	ID            pgtype.UUID
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	BlockNumber   *int64
	Confirmations int64
}

func (q *Queries) CompleteLedgerEntry(ctx context.Context, arg CompleteLedgerEntryParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeLedgerEntry,
		arg.ID,
		arg.BalanceBefore,
		arg.BalanceAfter,
		arg.BlockNumber,
		arg.Confirmations,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const failLedgerEntry = `
UPDATE ledger_entries
SET status = 'failed', failure_reason = $3, updated_at = NOW()
WHERE id = $1 AND status = $2
`

type FailLedgerEntryParams struct {
	ID            pgtype.UUID
	FromStatus    string
	FailureReason string
}

func (q *Queries) FailLedgerEntry(ctx context.Context, arg FailLedgerEntryParams) (int64, error) {
	result, err := q.db.Exec(ctx, failLedgerEntry, arg.ID, arg.FromStatus, arg.FailureReason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const recordLedgerEntryChainState = `
UPDATE ledger_entries
SET block_number = $2, confirmations = $3, updated_at = NOW()
WHERE id = $1
`

type RecordLedgerEntryChainStateParams struct {
	ID            pgtype.UUID
	BlockNumber   *int64
	Confirmations int64
}

func (q *Queries) RecordLedgerEntryChainState(ctx context.Context, arg RecordLedgerEntryChainStateParams) (int64, error) {
	result, err := q.db.Exec(ctx, recordLedgerEntryChainState, arg.ID, arg.BlockNumber, arg.Confirmations)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const countCompletedDepositsByTxHash = `
SELECT COUNT(*) FROM ledger_entries
WHERE tx_hash = $1 AND type = 'deposit' AND status = 'completed' AND id <> $2
`

type CountCompletedDepositsByTxHashParams struct {
	TxHash    string
	ExcludeID pgtype.UUID
}

func (q *Queries) CountCompletedDepositsByTxHash(ctx context.Context, arg CountCompletedDepositsByTxHashParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countCompletedDepositsByTxHash, arg.TxHash, arg.ExcludeID).Scan(&count)
	return count, err
}

const listLedgerEntriesByUser = `
SELECT ` + ledgerEntryColumns + `
FROM ledger_entries
WHERE user_id = $1 AND ($2::TEXT = '' OR type = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

type ListLedgerEntriesByUserParams struct {
	UserID pgtype.UUID
	Type   string
	Limit  int32
	Offset int32
}

func (q *Queries) ListLedgerEntriesByUser(ctx context.Context, arg ListLedgerEntriesByUserParams) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByUser, arg.UserID, arg.Type, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

const listLedgerEntriesByStatus = `
SELECT ` + ledgerEntryColumns + `
FROM ledger_entries
WHERE type = $1 AND status = $2
ORDER BY created_at ASC
LIMIT $3 OFFSET $4
`

type ListLedgerEntriesByStatusParams struct {
	Type   string
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListLedgerEntriesByStatus(ctx context.Context, arg ListLedgerEntriesByStatusParams) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByStatus, arg.Type, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

const getStaleProcessingEntries = `
SELECT ` + ledgerEntryColumns + `
FROM ledger_entries
WHERE type = $1 AND status = 'processing' AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`

type GetStaleProcessingEntriesParams struct {
	Type      string
	UpdatedAt pgtype.Timestamptz
	Limit     int32
}

func (q *Queries) GetStaleProcessingEntries(ctx context.Context, arg GetStaleProcessingEntriesParams) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, getStaleProcessingEntries, arg.Type, arg.UpdatedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}
