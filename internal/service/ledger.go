package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService is the only writer of user balances and counters.
type LedgerService struct {
	store    QueryStore
	audit    *AuditService
	platform *PlatformWalletService
	balances BalanceReader
}

func NewLedgerService(store QueryStore, audit *AuditService, platform *PlatformWalletService, balances BalanceReader) *LedgerService {
	return &LedgerService{
		store:    store,
		audit:    audit,
		platform: platform,
		balances: balances,
	}
}

// balanceChange describes one ledger movement and its effect on the platform
// aggregates.
type balanceChange struct {
	UserID uuid.UUID
	Type   string
	Amount decimal.Decimal
	// OnChainDelta moves platform total_balance. Only deposits and withdrawals
	// touch it since every other entry type is an internal reallocation.
	OnChainDelta decimal.Decimal
	RevenueDelta decimal.Decimal
	DailyUsed    decimal.Decimal
	// AllowOverdraft skips the available balance check for debits.
	AllowOverdraft bool
}

type balanceResult struct {
	User     repository.User
	Platform repository.PlatformWallet
	Before   decimal.Decimal
	After    decimal.Decimal
}

// apply locks the user row and then the platform row, moves the balance, the
// matching counter and the platform aggregates. It must run inside RunInTx.
func (s *LedgerService) apply(ctx context.Context, qtx *repository.Queries, ch balanceChange) (balanceResult, error) {
	counter, credit, ok := domain.CounterFor(ch.Type)
	if !ok {
		return balanceResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidType, ch.Type)
	}
	if err := domain.ValidateAmount(ch.Amount); err != nil {
		return balanceResult{}, err
	}

	user, err := qtx.GetUserForUpdate(ctx, repository.ToPgUUID(ch.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return balanceResult{}, domain.ErrUserNotFound
		}
		return balanceResult{}, fmt.Errorf("lock user: %w", err)
	}
	platform, err := s.platform.active(ctx, qtx)
	if err != nil {
		return balanceResult{}, err
	}

	delta := ch.Amount
	if !credit {
		delta = ch.Amount.Neg()
		if !ch.AllowOverdraft {
			outstanding, err := qtx.SumOutstandingWithdrawals(ctx, user.ID)
			if err != nil {
				return balanceResult{}, fmt.Errorf("sum outstanding withdrawals: %w", err)
			}
			available := user.VirtualBalance.Sub(outstanding)
			if ch.Amount.GreaterThan(available) {
				return balanceResult{}, &domain.PolicyError{
					Err:       domain.ErrInsufficientBalance,
					Limit:     available,
					Used:      decimal.Zero,
					Requested: ch.Amount,
					Remaining: decimal.Max(available, decimal.Zero),
				}
			}
		}
	}

	params := repository.ApplyUserBalanceParams{
		ID:             user.ID,
		Delta:          delta,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalSpent:     decimal.Zero,
	}
	switch counter {
	case domain.CounterDeposited:
		params.TotalDeposited = ch.Amount
	case domain.CounterWithdrawn:
		params.TotalWithdrawn = ch.Amount
	case domain.CounterEarned:
		params.TotalEarned = ch.Amount
	case domain.CounterSpent:
		params.TotalSpent = ch.Amount
	}
	rows, err := qtx.ApplyUserBalance(ctx, params)
	if err != nil {
		return balanceResult{}, fmt.Errorf("apply user balance: %w", err)
	}
	if err := requireExactlyOne(rows, "apply user balance"); err != nil {
		return balanceResult{}, err
	}

	rows, err = qtx.ApplyPlatformAggregates(ctx, repository.ApplyPlatformAggregatesParams{
		ID:                  platform.ID,
		TotalBalance:        ch.OnChainDelta,
		UserBalances:        delta,
		PlatformRevenue:     ch.RevenueDelta,
		DailyWithdrawalUsed: ch.DailyUsed,
	})
	if err != nil {
		return balanceResult{}, fmt.Errorf("apply platform aggregates: %w", err)
	}
	if err := requireExactlyOne(rows, "apply platform aggregates"); err != nil {
		return balanceResult{}, err
	}

	return balanceResult{
		User:     user,
		Platform: platform,
		Before:   user.VirtualBalance,
		After:    user.VirtualBalance.Add(delta),
	}, nil
}

// RecordEntryInput is an internal marketplace movement such as a purchase,
// sale, royalty, platform fee or refund.
type RecordEntryInput struct {
	UserID      uuid.UUID
	Type        string
	Amount      decimal.Decimal
	Description string
	ActorID     *uuid.UUID
}

// RecordEntry applies a completed internal ledger entry. Deposits and
// withdrawals have their own pipelines and admin adjustments go through
// AdjustBalance.
func (s *LedgerService) RecordEntry(ctx context.Context, in RecordEntryInput) (*models.LedgerEntry, error) {
	switch in.Type {
	case domain.EntryTypePurchase, domain.EntryTypeSale, domain.EntryTypeRoyalty, domain.EntryTypeRefund, domain.EntryTypePlatformFee:
	default:
		return nil, fmt.Errorf("%w: %q cannot be recorded directly", domain.ErrInvalidType, in.Type)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	change := balanceChange{
		UserID:       in.UserID,
		Type:         in.Type,
		Amount:       in.Amount,
		OnChainDelta: decimal.Zero,
		RevenueDelta: decimal.Zero,
		DailyUsed:    decimal.Zero,
	}
	if in.Type == domain.EntryTypePlatformFee {
		change.RevenueDelta = in.Amount
	}
	return s.commitEntry(ctx, change, in.Description, in.ActorID, nil)
}

// AdjustInput is an operator correction of a user balance.
type AdjustInput struct {
	UserID  uuid.UUID
	Mode    string
	Amount  decimal.Decimal
	Reason  string
	ActorID uuid.UUID
}

// AdjustBalance credits or debits a user outside of the chain pipelines. A debit
// may take the balance below zero; the resulting drift is visible to
// reconciliation.
func (s *LedgerService) AdjustBalance(ctx context.Context, in AdjustInput) (*models.LedgerEntry, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}
	var entryType string
	switch strings.ToLower(strings.TrimSpace(in.Mode)) {
	case domain.AdjustModeCredit:
		entryType = domain.EntryTypeAdminCredit
	case domain.AdjustModeDebit:
		entryType = domain.EntryTypeAdminDebit
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMode, in.Mode)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	metadata, err := marshalReasonMetadata(reason)
	if err != nil {
		return nil, fmt.Errorf("marshal adjustment metadata: %w", err)
	}
	entry, err := s.commitEntry(ctx, balanceChange{
		UserID:         in.UserID,
		Type:           entryType,
		Amount:         in.Amount,
		OnChainDelta:   decimal.Zero,
		RevenueDelta:   decimal.Zero,
		DailyUsed:      decimal.Zero,
		AllowOverdraft: true,
	}, reason, &in.ActorID, metadata)
	if err != nil {
		return nil, err
	}

	zap.L().Warn("balance adjusted",
		zap.String("user_id", in.UserID.String()),
		zap.String("type", entryType),
		zap.String("amount", in.Amount.String()),
		zap.String("actor_id", in.ActorID.String()),
	)
	return entry, nil
}

func (s *LedgerService) commitEntry(ctx context.Context, change balanceChange, description string, actorID *uuid.UUID, metadata []byte) (*models.LedgerEntry, error) {
	var out models.LedgerEntry
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		res, err := s.apply(ctx, qtx, change)
		if err != nil {
			return err
		}
		entry, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
			ID:            repository.ToPgUUID(uuid.New()),
			Type:          change.Type,
			UserID:        res.User.ID,
			WalletAddress: res.User.WalletAddress,
			Amount:        change.Amount,
			BalanceBefore: res.Before,
			BalanceAfter:  res.After,
			Status:        domain.StatusCompleted,
			Description:   description,
		})
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, entityLedgerEntry, repository.FromPgUUID(entry.ID), actorID, change.Type+"_recorded", "", domain.StatusCompleted, metadata); err != nil {
			return err
		}
		out = repository.LedgerEntryModel(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BalanceSummary is a user's balance with outstanding withdrawals netted out.
type BalanceSummary struct {
	VirtualBalance      decimal.Decimal `json:"virtual_balance"`
	TotalDeposited      decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn      decimal.Decimal `json:"total_withdrawn"`
	TotalEarned         decimal.Decimal `json:"total_earned"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	PendingWithdrawals  decimal.Decimal `json:"pending_withdrawals"`
	AvailableToWithdraw decimal.Decimal `json:"available_to_withdraw"`
}

func (s *LedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceSummary, error) {
	q := s.store.Queries()
	user, err := q.GetUser(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	outstanding, err := q.SumOutstandingWithdrawals(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("sum outstanding withdrawals: %w", err)
	}
	return &BalanceSummary{
		VirtualBalance:      user.VirtualBalance,
		TotalDeposited:      user.TotalDeposited,
		TotalWithdrawn:      user.TotalWithdrawn,
		TotalEarned:         user.TotalEarned,
		TotalSpent:          user.TotalSpent,
		PendingWithdrawals:  outstanding,
		AvailableToWithdraw: decimal.Max(user.VirtualBalance.Sub(outstanding), decimal.Zero),
	}, nil
}

// OnchainBalance is the native balance of the user's own wallet. Balance is nil
// when no RPC endpoint is configured.
type OnchainBalance struct {
	Address string           `json:"address"`
	Balance *decimal.Decimal `json:"balance"`
}

func (s *LedgerService) GetOnchainBalance(ctx context.Context, userID uuid.UUID) (*OnchainBalance, error) {
	user, err := s.store.Queries().GetUser(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	out := &OnchainBalance{Address: user.WalletAddress}
	if s.balances == nil {
		return out, nil
	}
	balance, err := s.balances.GetBalance(ctx, user.WalletAddress)
	if err != nil {
		if errors.Is(err, domain.ErrRPCNotConfigured) {
			return out, nil
		}
		return nil, fmt.Errorf("read onchain balance: %w", err)
	}
	out.Balance = &balance
	return out, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, userID uuid.UUID, entryType string, limit, offset int32) ([]models.LedgerEntry, error) {
	entryType = strings.ToLower(strings.TrimSpace(entryType))
	if entryType != "" && !domain.IsEntryType(entryType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidType, entryType)
	}
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListLedgerEntriesByUser(ctx, repository.ListLedgerEntriesByUserParams{
		UserID: repository.ToPgUUID(userID),
		Type:   entryType,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	out := make([]models.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.LedgerEntryModel(row))
	}
	return out, nil
}
