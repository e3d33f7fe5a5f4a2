package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const userColumns = `id, wallet_address, deposit_address, virtual_balance, total_deposited, total_withdrawn, total_earned, total_spent, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.WalletAddress,
		&i.DepositAddress,
		&i.VirtualBalance,
		&i.TotalDeposited,
		&i.TotalWithdrawn,
		&i.TotalEarned,
		&i.TotalSpent,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createUser = `
INSERT INTO users (id, wallet_address)
VALUES ($1, $2)
RETURNING ` + userColumns

type CreateUserParams struct {
	ID            pgtype.UUID
	WalletAddress string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUser, arg.ID, arg.WalletAddress))
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUser, id))
}

const getUserForUpdate = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

func (q *Queries) GetUserForUpdate(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserForUpdate, id))
}

const getUserByWallet = `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1`

func (q *Queries) GetUserByWallet(ctx context.Context, walletAddress string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByWallet, walletAddress))
}

const linkDepositAddress = `
UPDATE users
SET deposit_address = $2, updated_at = NOW()
WHERE id = $1 AND deposit_address IS NULL
`

type LinkDepositAddressParams struct {
	ID             pgtype.UUID
	DepositAddress string
}

// LinkDepositAddress only sets the address when none is linked yet.
func (q *Queries) LinkDepositAddress(ctx context.Context, arg LinkDepositAddressParams) (int64, error) {
	result, err := q.db.Exec(ctx, linkDepositAddress, arg.ID, arg.DepositAddress)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const applyUserBalance = `
UPDATE users
SET virtual_balance = virtual_balance + $2,
    total_deposited = total_deposited + $3,
    total_withdrawn = total_withdrawn + $4,
    total_earned = total_earned + $5,
    total_spent = total_spent + $6,
    updated_at = NOW()
WHERE id = $1
`

type ApplyUserBalanceParams struct {
	ID             pgtype.UUID
	Delta          decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
}

func (q *Queries) ApplyUserBalance(ctx context.Context, arg ApplyUserBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, applyUserBalance,
		arg.ID,
		arg.Delta,
		arg.TotalDeposited,
		arg.TotalWithdrawn,
		arg.TotalEarned,
		arg.TotalSpent,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const sumUserBalances = `SELECT COALESCE(SUM(virtual_balance), 0)::NUMERIC FROM users`

func (q *Queries) SumUserBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumUserBalances).Scan(&total)
	return total, err
}
