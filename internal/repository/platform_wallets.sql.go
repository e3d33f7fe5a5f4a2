package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const platformWalletColumns = `id, address, chain_id, total_balance, user_balances, platform_revenue, reserved_for_withdrawals, daily_withdrawal_limit, daily_withdrawal_used, minimum_balance, discrepancy, last_limit_reset, last_reconciled, active, created_at, updated_at`

func scanPlatformWallet(row pgx.Row) (PlatformWallet, error) {
	var i PlatformWallet
	err := row.Scan(
		&i.ID,
		&i.Address,
		&i.ChainID,
		&i.TotalBalance,
		&i.UserBalances,
		&i.PlatformRevenue,
		&i.ReservedForWithdrawals,
		&i.DailyWithdrawalLimit,
		&i.DailyWithdrawalUsed,
		&i.MinimumBalance,
		&i.Discrepancy,
		&i.LastLimitReset,
		&i.LastReconciled,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getActivePlatformWallet = `SELECT ` + platformWalletColumns + ` FROM platform_wallets WHERE active`

func (q *Queries) GetActivePlatformWallet(ctx context.Context) (PlatformWallet, error) {
	return scanPlatformWallet(q.db.QueryRow(ctx, getActivePlatformWallet))
}

const getActivePlatformWalletForUpdate = `SELECT ` + platformWalletColumns + ` FROM platform_wallets WHERE active FOR UPDATE`

func (q *Queries) GetActivePlatformWalletForUpdate(ctx context.Context) (PlatformWallet, error) {
	return scanPlatformWallet(q.db.QueryRow(ctx, getActivePlatformWalletForUpdate))
}

const getPlatformWalletByAddress = `SELECT ` + platformWalletColumns + ` FROM platform_wallets WHERE address = $1`

func (q *Queries) GetPlatformWalletByAddress(ctx context.Context, address string) (PlatformWallet, error) {
	return scanPlatformWallet(q.db.QueryRow(ctx, getPlatformWalletByAddress, address))
}

const insertPlatformWallet = `
INSERT INTO platform_wallets (
    id, address, chain_id, total_balance, user_balances, platform_revenue,
    daily_withdrawal_limit, minimum_balance, active
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
ON CONFLICT DO NOTHING
RETURNING ` + platformWalletColumns

type InsertPlatformWalletParams struct {
	ID                   pgtype.UUID
	Address              string
	ChainID              int64
	TotalBalance         decimal.Decimal
	UserBalances         decimal.Decimal
	PlatformRevenue      decimal.Decimal
	DailyWithdrawalLimit decimal.Decimal
	MinimumBalance       decimal.Decimal
}

// InsertPlatformWallet returns pgx.ErrNoRows when another active row or the
// same address already exists.
func (q *Queries) InsertPlatformWallet(ctx context.Context, arg InsertPlatformWalletParams) (PlatformWallet, error) {
	return scanPlatformWallet(q.db.QueryRow(ctx, insertPlatformWallet,
		arg.ID,
		arg.Address,
		arg.ChainID,
		arg.TotalBalance,
		arg.UserBalances,
		arg.PlatformRevenue,
		arg.DailyWithdrawalLimit,
		arg.MinimumBalance,
	))
}

const applyPlatformAggregates = `
UPDATE platform_wallets
SET total_balance = total_balance + $2,
    user_balances = user_balances + $3,
    platform_revenue = platform_revenue + $4,
    daily_withdrawal_used = daily_withdrawal_used + $5,
    updated_at = NOW()
WHERE id = $1 AND active
`

type ApplyPlatformAggregatesParams struct {
	ID                  pgtype.UUID
	TotalBalance        decimal.Decimal
	UserBalances        decimal.Decimal
	PlatformRevenue     decimal.Decimal
	DailyWithdrawalUsed decimal.Decimal
}

func (q *Queries) ApplyPlatformAggregates(ctx context.Context, arg ApplyPlatformAggregatesParams) (int64, error) {
	result, err := q.db.Exec(ctx, applyPlatformAggregates,
		arg.ID,
		arg.TotalBalance,
		arg.UserBalances,
		arg.PlatformRevenue,
		arg.DailyWithdrawalUsed,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const setReservedForWithdrawals = `
UPDATE platform_wallets
SET reserved_for_withdrawals = $2, updated_at = NOW()
WHERE id = $1
`

type SetReservedForWithdrawalsParams struct {
	ID       pgtype.UUID
	Reserved decimal.Decimal
}

func (q *Queries) SetReservedForWithdrawals(ctx context.Context, arg SetReservedForWithdrawalsParams) (int64, error) {
	result, err := q.db.Exec(ctx, setReservedForWithdrawals, arg.ID, arg.Reserved)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const recordPlatformReconciliation = `
UPDATE platform_wallets
SET total_balance = $2,
    discrepancy = $3,
    reserved_for_withdrawals = $4,
    last_reconciled = NOW(),
    updated_at = NOW()
WHERE id = $1
`

type RecordPlatformReconciliationParams struct {
	ID                     pgtype.UUID
	TotalBalance           decimal.Decimal
	Discrepancy            decimal.Decimal
	ReservedForWithdrawals decimal.Decimal
}

func (q *Queries) RecordPlatformReconciliation(ctx context.Context, arg RecordPlatformReconciliationParams) (int64, error) {
	result, err := q.db.Exec(ctx, recordPlatformReconciliation,
		arg.ID,
		arg.TotalBalance,
		arg.Discrepancy,
		arg.ReservedForWithdrawals,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const resetPlatformDailyUsage = `
UPDATE platform_wallets
SET daily_withdrawal_used = 0, last_limit_reset = NOW(), updated_at = NOW()
WHERE id = $1
`

func (q *Queries) ResetPlatformDailyUsage(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, resetPlatformDailyUsage, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deactivatePlatformWallet = `
UPDATE platform_wallets
SET active = FALSE, updated_at = NOW()
WHERE id = $1 AND active
`

func (q *Queries) DeactivatePlatformWallet(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deactivatePlatformWallet, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
