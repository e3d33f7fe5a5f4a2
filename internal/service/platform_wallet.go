package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errPlatformAddressMissing = errors.New("platform wallet address is not configured")

// PlatformConfig seeds the platform wallet row the first time it is needed.
type PlatformConfig struct {
	Address              string
	ChainID              int64
	DailyWithdrawalLimit decimal.Decimal
	MinimumBalance       decimal.Decimal
}

// PlatformWalletService owns the single active platform wallet record.
type PlatformWalletService struct {
	store QueryStore
	audit *AuditService
	cfg   PlatformConfig
}

func NewPlatformWalletService(store QueryStore, audit *AuditService, cfg PlatformConfig) *PlatformWalletService {
	return &PlatformWalletService{store: store, audit: audit, cfg: cfg}
}

// active locks the active platform row, creating it from configuration when
// none exists yet. Callers that also lock a user row must lock the user first.
func (s *PlatformWalletService) active(ctx context.Context, qtx *repository.Queries) (repository.PlatformWallet, error) {
	pw, err := qtx.GetActivePlatformWalletForUpdate(ctx)
	if err == nil {
		return pw, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.PlatformWallet{}, fmt.Errorf("load platform wallet: %w", err)
	}

	if s.cfg.Address == "" {
		return repository.PlatformWallet{}, errPlatformAddressMissing
	}
	address, err := domain.NormalizeAddress(s.cfg.Address)
	if err != nil {
		return repository.PlatformWallet{}, fmt.Errorf("platform wallet address: %w", err)
	}

	pw, err = qtx.InsertPlatformWallet(ctx, repository.InsertPlatformWalletParams{
		ID:                   repository.ToPgUUID(uuid.New()),
		Address:              address,
		ChainID:              s.cfg.ChainID,
		TotalBalance:         decimal.Zero,
		UserBalances:         decimal.Zero,
		PlatformRevenue:      decimal.Zero,
		DailyWithdrawalLimit: s.cfg.DailyWithdrawalLimit,
		MinimumBalance:       s.cfg.MinimumBalance,
	})
	if err == nil {
		zap.L().Info("platform wallet created", zap.String("address", address), zap.Int64("chain_id", s.cfg.ChainID))
		return pw, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.PlatformWallet{}, fmt.Errorf("create platform wallet: %w", err)
	}

	// Lost the creation race, or the configured address was rotated away.
	pw, err = qtx.GetActivePlatformWalletForUpdate(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.PlatformWallet{}, fmt.Errorf("%w: %s", domain.ErrPlatformAddressUsed, address)
	}
	if err != nil {
		return repository.PlatformWallet{}, fmt.Errorf("reload platform wallet: %w", err)
	}
	return pw, nil
}

// Get returns the active platform wallet, creating it on first access.
func (s *PlatformWalletService) Get(ctx context.Context) (*models.PlatformWallet, error) {
	var out models.PlatformWallet
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		pw, err := s.active(ctx, qtx)
		if err != nil {
			return err
		}
		out = repository.PlatformWalletModel(pw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Rotate deactivates the current platform wallet and activates newAddress,
// carrying the running totals and today's withdrawal usage forward.
func (s *PlatformWalletService) Rotate(ctx context.Context, newAddress string, actorID uuid.UUID) (*models.PlatformWallet, error) {
	address, err := domain.NormalizeAddress(newAddress)
	if err != nil {
		return nil, err
	}

	var out models.PlatformWallet
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := s.active(ctx, qtx)
		if err != nil {
			return err
		}
		if _, err := qtx.GetPlatformWalletByAddress(ctx, address); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrPlatformAddressUsed, address)
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check platform address: %w", err)
		}

		rows, err := qtx.DeactivatePlatformWallet(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("deactivate platform wallet: %w", err)
		}
		if err := requireExactlyOne(rows, "deactivate platform wallet"); err != nil {
			return err
		}

		next, err := qtx.InsertPlatformWallet(ctx, repository.InsertPlatformWalletParams{
			ID:                   repository.ToPgUUID(uuid.New()),
			Address:              address,
			ChainID:              current.ChainID,
			TotalBalance:         current.TotalBalance,
			UserBalances:         current.UserBalances,
			PlatformRevenue:      current.PlatformRevenue,
			DailyWithdrawalLimit: current.DailyWithdrawalLimit,
			MinimumBalance:       current.MinimumBalance,
		})
		if err != nil {
			return fmt.Errorf("insert rotated platform wallet: %w", err)
		}
		if current.DailyWithdrawalUsed.IsPositive() {
			rows, err := qtx.ApplyPlatformAggregates(ctx, repository.ApplyPlatformAggregatesParams{
				ID:                  next.ID,
				TotalBalance:        decimal.Zero,
				UserBalances:        decimal.Zero,
				PlatformRevenue:     decimal.Zero,
				DailyWithdrawalUsed: current.DailyWithdrawalUsed,
			})
			if err != nil {
				return fmt.Errorf("carry daily usage: %w", err)
			}
			if err := requireExactlyOne(rows, "carry daily usage"); err != nil {
				return err
			}
			next.DailyWithdrawalUsed = current.DailyWithdrawalUsed
		}

		metadata := marshalMetadata(map[string]any{
			"from_address": current.Address,
			"to_address":   address,
		})
		if err := s.audit.Write(ctx, qtx, entityPlatformWallet, repository.FromPgUUID(next.ID), &actorID, "platform_wallet_rotated", current.Address, address, metadata); err != nil {
			return err
		}
		out = repository.PlatformWalletModel(next)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Warn("platform wallet rotated",
		zap.String("address", out.Address),
		zap.String("actor_id", actorID.String()),
	)
	return &out, nil
}
