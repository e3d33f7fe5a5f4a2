package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/alert"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReconciliationConfig struct {
	DiscrepancyThreshold decimal.Decimal
}

// ReconciliationService compares the ledger with the platform's on-chain
// balance. It records and reports differences and never corrects balances.
type ReconciliationService struct {
	store    QueryStore
	audit    *AuditService
	platform *PlatformWalletService
	balances BalanceReader
	alerter  alert.Alerter
	cfg      ReconciliationConfig
}

func NewReconciliationService(store QueryStore, audit *AuditService, platform *PlatformWalletService, balances BalanceReader, alerter alert.Alerter, cfg ReconciliationConfig) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		audit:    audit,
		platform: platform,
		balances: balances,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// Reconcile computes discrepancy = |onchain - (sum of user balances + revenue)|
// and stores the snapshot plus a history row.
func (s *ReconciliationService) Reconcile(ctx context.Context) (*models.ReconciliationReport, error) {
	pw, err := s.platform.Get(ctx)
	if err != nil {
		return nil, err
	}
	onchain, err := s.balances.GetBalance(ctx, pw.Address)
	if err != nil {
		return nil, fmt.Errorf("read platform balance: %w", err)
	}

	var (
		report     models.ReconciliationReport
		sum        decimal.Decimal
		revenue    decimal.Decimal
		minimum    decimal.Decimal
		drift      decimal.Decimal
		overLimit  bool
		underFloor bool
	)
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		platform, err := s.platform.active(ctx, qtx)
		if err != nil {
			return err
		}
		sum, err = qtx.SumUserBalances(ctx)
		if err != nil {
			return fmt.Errorf("sum user balances: %w", err)
		}
		outstanding, err := qtx.SumAllOutstandingWithdrawals(ctx)
		if err != nil {
			return fmt.Errorf("sum outstanding withdrawals: %w", err)
		}

		revenue = platform.PlatformRevenue
		minimum = platform.MinimumBalance
		discrepancy := onchain.Sub(sum.Add(revenue)).Abs()
		drift = platform.UserBalances.Sub(sum)
		overLimit = s.cfg.DiscrepancyThreshold.IsPositive() && discrepancy.GreaterThan(s.cfg.DiscrepancyThreshold)
		underFloor = minimum.IsPositive() && onchain.LessThan(minimum)

		rows, err := qtx.RecordPlatformReconciliation(ctx, repository.RecordPlatformReconciliationParams{
			ID:                     platform.ID,
			TotalBalance:           onchain,
			Discrepancy:            discrepancy,
			ReservedForWithdrawals: outstanding,
		})
		if err != nil {
			return fmt.Errorf("record reconciliation: %w", err)
		}
		if err := requireExactlyOne(rows, "record reconciliation"); err != nil {
			return err
		}

		row, err := qtx.InsertReconciliationReport(ctx, repository.InsertReconciliationReportParams{
			ID:              repository.ToPgUUID(uuid.New()),
			PlatformAddress: platform.Address,
			OnchainBalance:  onchain,
			SumUserBalances: sum,
			AggregateDrift:  drift,
			PlatformRevenue: revenue,
			Discrepancy:     discrepancy,
			Alerted:         overLimit || underFloor || !drift.IsZero(),
		})
		if err != nil {
			return fmt.Errorf("insert reconciliation report: %w", err)
		}
		report = repository.ReconciliationReportModel(row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	onchainF, _ := onchain.Float64()
	discrepancyF, _ := report.Discrepancy.Float64()
	observability.SetReconciliation(onchainF, discrepancyF, !drift.IsZero())

	fields := map[string]string{
		"platform_address":  report.PlatformAddress,
		"onchain_balance":   onchain.String(),
		"sum_user_balances": sum.String(),
		"platform_revenue":  revenue.String(),
		"discrepancy":       report.Discrepancy.String(),
	}
	if overLimit {
		raise(ctx, s.alerter, alert.SeverityCritical, "Platform balance discrepancy", fields)
	}
	if underFloor {
		raise(ctx, s.alerter, alert.SeverityWarning, "Platform balance below minimum", map[string]string{
			"platform_address": report.PlatformAddress,
			"onchain_balance":  onchain.String(),
			"minimum_balance":  minimum.String(),
		})
	}
	if !drift.IsZero() {
		raise(ctx, s.alerter, alert.SeverityCritical, "Platform aggregate drift", map[string]string{
			"platform_address":  report.PlatformAddress,
			"sum_user_balances": sum.String(),
			"aggregate_drift":   drift.String(),
		})
	}

	zap.L().Info("reconciliation completed",
		zap.String("onchain_balance", onchain.String()),
		zap.String("sum_user_balances", sum.String()),
		zap.String("discrepancy", report.Discrepancy.String()),
		zap.String("aggregate_drift", drift.String()),
	)
	return &report, nil
}

// ResetDailyLimits zeroes the platform's daily withdrawal usage.
func (s *ReconciliationService) ResetDailyLimits(ctx context.Context, actorID *uuid.UUID) (*models.PlatformWallet, error) {
	return s.resetDailyLimits(ctx, actorID, time.Time{})
}

// ResetDailyLimitsIfDue resets usage only when the last reset happened before
// the current UTC day. It reports whether a reset took place.
func (s *ReconciliationService) ResetDailyLimitsIfDue(ctx context.Context, now time.Time) (bool, error) {
	pw, err := s.resetDailyLimits(ctx, nil, startOfDay(now))
	if err != nil {
		return false, err
	}
	return pw != nil, nil
}

// resetDailyLimits skips the reset and returns nil when the last reset is not
// older than notBefore. A zero notBefore always resets.
func (s *ReconciliationService) resetDailyLimits(ctx context.Context, actorID *uuid.UUID, notBefore time.Time) (*models.PlatformWallet, error) {
	var out *models.PlatformWallet
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		platform, err := s.platform.active(ctx, qtx)
		if err != nil {
			return err
		}
		if !notBefore.IsZero() && !platform.LastLimitReset.Time.Before(notBefore) {
			return nil
		}
		rows, err := qtx.ResetPlatformDailyUsage(ctx, platform.ID)
		if err != nil {
			return fmt.Errorf("reset daily usage: %w", err)
		}
		if err := requireExactlyOne(rows, "reset daily usage"); err != nil {
			return err
		}
		metadata := marshalMetadata(map[string]any{
			"daily_withdrawal_used": platform.DailyWithdrawalUsed.String(),
		})
		if err := s.audit.Write(ctx, qtx, entityPlatformWallet, repository.FromPgUUID(platform.ID), actorID, "daily_limits_reset", "", "", metadata); err != nil {
			return err
		}
		reset, err := qtx.GetActivePlatformWallet(ctx)
		if err != nil {
			return fmt.Errorf("reload platform wallet: %w", err)
		}
		model := repository.PlatformWalletModel(reset)
		out = &model
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		zap.L().Info("daily withdrawal limits reset", zap.String("platform_address", out.Address))
	}
	return out, nil
}

func (s *ReconciliationService) ListReports(ctx context.Context, limit int32) ([]models.ReconciliationReport, error) {
	limit, _ = clampPage(limit, 0)
	rows, err := s.store.Queries().ListReconciliationReports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation reports: %w", err)
	}
	out := make([]models.ReconciliationReport, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.ReconciliationReportModel(row))
	}
	return out, nil
}
