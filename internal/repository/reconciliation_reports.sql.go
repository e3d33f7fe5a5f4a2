package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const reconciliationReportColumns = `id, platform_address, onchain_balance, sum_user_balances, aggregate_drift, platform_revenue, discrepancy, alerted, created_at`

const insertReconciliationReport = `
INSERT INTO reconciliation_reports (
    id, platform_address, onchain_balance, sum_user_balances, aggregate_drift,
    platform_revenue, discrepancy, alerted
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + reconciliationReportColumns

type InsertReconciliationReportParams struct {
	ID              pgtype.UUID
	PlatformAddress string
	OnchainBalance  decimal.Decimal
	SumUserBalances decimal.Decimal
	AggregateDrift  decimal.Decimal
	PlatformRevenue decimal.Decimal
	Discrepancy     decimal.Decimal
	Alerted         bool
}

func (q *Queries) InsertReconciliationReport(ctx context.Context, arg InsertReconciliationReportParams) (ReconciliationReport, error) {
	row := q.db.QueryRow(ctx, insertReconciliationReport,
		arg.ID,
		arg.PlatformAddress,
		arg.OnchainBalance,
		arg.SumUserBalances,
		arg.AggregateDrift,
		arg.PlatformRevenue,
		arg.Discrepancy,
		arg.Alerted,
	)
	var i ReconciliationReport
	err := row.Scan(
		&i.ID,
		&i.PlatformAddress,
		&i.OnchainBalance,
		&i.SumUserBalances,
		&i.AggregateDrift,
		&i.PlatformRevenue,
		&i.Discrepancy,
		&i.Alerted,
		&i.CreatedAt,
	)
	return i, err
}

const listReconciliationReports = `
SELECT ` + reconciliationReportColumns + `
FROM reconciliation_reports
ORDER BY created_at DESC
LIMIT $1
`

func (q *Queries) ListReconciliationReports(ctx context.Context, limit int32) ([]ReconciliationReport, error) {
	rows, err := q.db.Query(ctx, listReconciliationReports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ReconciliationReport{}
	for rows.Next() {
		var i ReconciliationReport
		if err := rows.Scan(
			&i.ID,
			&i.PlatformAddress,
			&i.OnchainBalance,
			&i.SumUserBalances,
			&i.AggregateDrift,
			&i.PlatformRevenue,
			&i.Discrepancy,
			&i.Alerted,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
