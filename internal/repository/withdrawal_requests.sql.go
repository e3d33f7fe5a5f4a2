package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, user_id, amount, destination_address, status, tx_hash, failure_reason, retry_count, gas_cost, block_number, ip_address, user_agent, requested_at, processed_at, completed_at, failed_at, updated_at`

func scanWithdrawalRequest(row pgx.Row) (WithdrawalRequest, error) {
	var i WithdrawalRequest
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Amount,
		&i.DestinationAddress,
		&i.Status,
		&i.TxHash,
		&i.FailureReason,
		&i.RetryCount,
		&i.GasCost,
		&i.BlockNumber,
		&i.IpAddress,
		&i.UserAgent,
		&i.RequestedAt,
		&i.ProcessedAt,
		&i.CompletedAt,
		&i.FailedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectWithdrawalRequests(rows pgx.Rows) ([]WithdrawalRequest, error) {
	defer rows.Close()
	items := []WithdrawalRequest{}
	for rows.Next() {
		i, err := scanWithdrawalRequest(rows)
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

const insertWithdrawalRequest = `
INSERT INTO withdrawal_requests (id, user_id, amount, destination_address, status, ip_address, user_agent)
VALUES ($1, $2, $3, $4, 'pending', $5, $6)
RETURNING ` + withdrawalColumns

type InsertWithdrawalRequestParams struct {
	ID                 pgtype.UUID
	UserID             pgtype.UUID
	Amount             decimal.Decimal
	DestinationAddress string
	IpAddress          string
	UserAgent          string
}

func (q *Queries) InsertWithdrawalRequest(ctx context.Context, arg InsertWithdrawalRequestParams) (WithdrawalRequest, error) {
	return scanWithdrawalRequest(q.db.QueryRow(ctx, insertWithdrawalRequest,
		arg.ID,
		arg.UserID,
		arg.Amount,
		arg.DestinationAddress,
		arg.IpAddress,
		arg.UserAgent,
	))
}

const getWithdrawalRequest = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

func (q *Queries) GetWithdrawalRequest(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawalRequest(q.db.QueryRow(ctx, getWithdrawalRequest, id))
}

const getWithdrawalRequestForUpdate = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalRequestForUpdate(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawalRequest(q.db.QueryRow(ctx, getWithdrawalRequestForUpdate, id))
}

const listWithdrawalRequestsByUser = `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests
WHERE user_id = $1
ORDER BY requested_at DESC, id DESC
LIMIT $2 OFFSET $3
`

type ListWithdrawalRequestsByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListWithdrawalRequestsByUser(ctx context.Context, arg ListWithdrawalRequestsByUserParams) ([]WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listWithdrawalRequestsByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectWithdrawalRequests(rows)
}

const listEligibleWithdrawalIDs = `
SELECT id FROM withdrawal_requests
WHERE status = 'pending' AND requested_at <= $1
ORDER BY requested_at ASC
LIMIT $2
`

type ListEligibleWithdrawalIDsParams struct {
	RequestedBefore pgtype.Timestamptz
	Limit           int32
}

func (q *Queries) ListEligibleWithdrawalIDs(ctx context.Context, arg ListEligibleWithdrawalIDsParams) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listEligibleWithdrawalIDs, arg.RequestedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []pgtype.UUID{}
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const claimWithdrawalRequest = `
UPDATE withdrawal_requests
SET status = 'processing', processed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'pending' AND requested_at <= $2
`

type ClaimWithdrawalRequestParams struct {
	ID              pgtype.UUID
	RequestedBefore pgtype.Timestamptz
}

// ClaimWithdrawalRequest moves a request to processing. Zero rows affected means
// it was claimed elsewhere, cancelled, or is not old enough yet.
func (q *Queries) ClaimWithdrawalRequest(ctx context.Context, arg ClaimWithdrawalRequestParams) (int64, error) {
	result, err := q.db.Exec(ctx, claimWithdrawalRequest, arg.ID, arg.RequestedBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const setWithdrawalTxHash = `
UPDATE withdrawal_requests
SET tx_hash = $2, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND tx_hash IS NULL
`

type SetWithdrawalTxHashParams struct {
	ID     pgtype.UUID
	TxHash string
}

func (q *Queries) SetWithdrawalTxHash(ctx context.Context, arg SetWithdrawalTxHashParams) (int64, error) {
	result, err := q.db.Exec(ctx, setWithdrawalTxHash, arg.ID, arg.TxHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const completeWithdrawalRequest = `
UPDATE withdrawal_requests
SET status = 'completed',
    tx_hash = COALESCE(tx_hash, $2),
    gas_cost = $3,
    block_number = $4,
    failure_reason = NULL,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = 'processing'
`

type CompleteWithdrawalRequestParams struct {
	ID          pgtype.UUID
	TxHash      string
	GasCost     decimal.Decimal
	BlockNumber *int64
}

func (q *Queries) CompleteWithdrawalRequest(ctx context.Context, arg CompleteWithdrawalRequestParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeWithdrawalRequest, arg.ID, arg.TxHash, arg.GasCost, arg.BlockNumber)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const failWithdrawalRequest = `
UPDATE withdrawal_requests
SET status = 'failed',
    failure_reason = $3,
    retry_count = retry_count + $4,
    failed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = $2
`

type FailWithdrawalRequestParams struct {
	ID            pgtype.UUID
	FromStatus    string
	FailureReason string
	// RetryIncrement is 1 for processing failures and 0 for cancellations.
	RetryIncrement int32
}

func (q *Queries) FailWithdrawalRequest(ctx context.Context, arg FailWithdrawalRequestParams) (int64, error) {
	result, err := q.db.Exec(ctx, failWithdrawalRequest, arg.ID, arg.FromStatus, arg.FailureReason, arg.RetryIncrement)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const requeueWithdrawalRequest = `
UPDATE withdrawal_requests
SET status = 'pending', processed_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND tx_hash IS NULL
`

func (q *Queries) RequeueWithdrawalRequest(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, requeueWithdrawalRequest, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getStaleProcessingWithdrawals = `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests
WHERE status = 'processing' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`

type GetStaleProcessingWithdrawalsParams struct {
	UpdatedAt pgtype.Timestamptz
	Limit     int32
}

func (q *Queries) GetStaleProcessingWithdrawals(ctx context.Context, arg GetStaleProcessingWithdrawalsParams) ([]WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, getStaleProcessingWithdrawals, arg.UpdatedAt, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectWithdrawalRequests(rows)
}

const sumUserWithdrawalsSince = `
SELECT COALESCE(SUM(amount), 0)::NUMERIC
FROM withdrawal_requests
WHERE user_id = $1 AND requested_at >= $2 AND status = ANY($3::TEXT[])
`

type SumUserWithdrawalsSinceParams struct {
	UserID   pgtype.UUID
	Since    pgtype.Timestamptz
	Statuses []string
}

func (q *Queries) SumUserWithdrawalsSince(ctx context.Context, arg SumUserWithdrawalsSinceParams) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumUserWithdrawalsSince, arg.UserID, arg.Since, arg.Statuses).Scan(&total)
	return total, err
}

const sumOutstandingWithdrawals = `
SELECT COALESCE(SUM(amount), 0)::NUMERIC
FROM withdrawal_requests
WHERE user_id = $1 AND status IN ('pending', 'processing')
`

func (q *Queries) SumOutstandingWithdrawals(ctx context.Context, userID pgtype.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumOutstandingWithdrawals, userID).Scan(&total)
	return total, err
}

const sumAllOutstandingWithdrawals = `
SELECT COALESCE(SUM(amount), 0)::NUMERIC
FROM withdrawal_requests
WHERE status IN ('pending', 'processing')
`

func (q *Queries) SumAllOutstandingWithdrawals(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumAllOutstandingWithdrawals).Scan(&total)
	return total, err
}

const countUserWithdrawalsSince = `
SELECT COUNT(*) FROM withdrawal_requests
WHERE user_id = $1 AND requested_at >= $2
`

type CountUserWithdrawalsSinceParams struct {
	UserID pgtype.UUID
	Since  pgtype.Timestamptz
}

func (q *Queries) CountUserWithdrawalsSince(ctx context.Context, arg CountUserWithdrawalsSinceParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countUserWithdrawalsSince, arg.UserID, arg.Since).Scan(&count)
	return count, err
}

const countWithdrawalsByStatus = `SELECT COUNT(*) FROM withdrawal_requests WHERE status = $1`

func (q *Queries) CountWithdrawalsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countWithdrawalsByStatus, status).Scan(&count)
	return count, err
}
