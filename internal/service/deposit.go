package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultDepositConfirmations = 12
	defaultStaleClaimTimeout    = 10 * time.Minute
	staleSweepBatch             = 100
)

type DepositConfig struct {
	Confirmations     uint64
	MinAmount         decimal.Decimal
	StaleClaimTimeout time.Duration
}

// DepositService verifies user deposits against chain state and credits them
// once an operator approves.
type DepositService struct {
	store    QueryStore
	audit    *AuditService
	ledger   *LedgerService
	platform *PlatformWalletService
	verifier TransactionVerifier
	cfg      DepositConfig
}

func NewDepositService(store QueryStore, audit *AuditService, ledger *LedgerService, platform *PlatformWalletService, verifier TransactionVerifier, cfg DepositConfig) *DepositService {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = defaultDepositConfirmations
	}
	if cfg.StaleClaimTimeout <= 0 {
		cfg.StaleClaimTimeout = defaultStaleClaimTimeout
	}
	return &DepositService{
		store:    store,
		audit:    audit,
		ledger:   ledger,
		platform: platform,
		verifier: verifier,
		cfg:      cfg,
	}
}

type DepositAddress struct {
	Address    string          `json:"address"`
	ChainID    int64           `json:"chain_id"`
	MinDeposit decimal.Decimal `json:"min_deposit"`
}

// GetDepositAddress returns where users should send deposits.
func (s *DepositService) GetDepositAddress(ctx context.Context) (*DepositAddress, error) {
	pw, err := s.platform.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &DepositAddress{
		Address:    pw.Address,
		ChainID:    pw.ChainID,
		MinDeposit: s.cfg.MinAmount,
	}, nil
}

type DepositResult struct {
	Entry    models.LedgerEntry
	Existing bool
}

// SubmitDeposit records a pending deposit for txHash after checking that the
// transaction paid the platform. Resubmitting the same hash returns the
// existing entry.
func (s *DepositService) SubmitDeposit(ctx context.Context, userID uuid.UUID, txHash string) (*DepositResult, error) {
	hash, err := domain.NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	q := s.store.Queries()
	if res, err := s.existingDeposit(ctx, q, userID, hash); res != nil || err != nil {
		return res, err
	}
	if _, err := q.GetUser(ctx, repository.ToPgUUID(userID)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	platform, err := s.platform.Get(ctx)
	if err != nil {
		return nil, err
	}
	facts, err := s.verifier.GetTransactionFacts(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !domain.SameAddress(facts.To, platform.Address) {
		return nil, fmt.Errorf("%w: paid %s", domain.ErrRecipientMismatch, facts.To)
	}
	if err := domain.ValidateAmount(facts.Value); err != nil {
		return nil, err
	}
	if s.cfg.MinAmount.IsPositive() && facts.Value.LessThan(s.cfg.MinAmount) {
		return nil, &domain.PolicyError{
			Err:       domain.ErrBelowMinimum,
			Limit:     s.cfg.MinAmount,
			Used:      decimal.Zero,
			Requested: facts.Value,
			Remaining: decimal.Zero,
		}
	}

	var out models.LedgerEntry
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		user, err := qtx.GetUserForUpdate(ctx, repository.ToPgUUID(userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if user.DepositAddress == nil {
			rows, err := qtx.LinkDepositAddress(ctx, repository.LinkDepositAddressParams{
				ID:             user.ID,
				DepositAddress: facts.From,
			})
			if err != nil {
				return fmt.Errorf("link deposit address: %w", err)
			}
			if err := requireExactlyOne(rows, "link deposit address"); err != nil {
				return err
			}
		} else if !domain.SameAddress(*user.DepositAddress, facts.From) {
			return fmt.Errorf("%w: linked %s, sender %s", domain.ErrAddressMismatch, *user.DepositAddress, facts.From)
		}

		entry, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
			ID:            repository.ToPgUUID(uuid.New()),
			Type:          domain.EntryTypeDeposit,
			UserID:        user.ID,
			WalletAddress: user.WalletAddress,
			Amount:        facts.Value,
			BalanceBefore: user.VirtualBalance,
			BalanceAfter:  user.VirtualBalance,
			Status:        domain.StatusPending,
			TxHash:        &hash,
			FromAddress:   &facts.From,
			ToAddress:     &facts.To,
			BlockNumber:   int64Ptr(facts.BlockNumber),
			Confirmations: int64(facts.Confirmations),
			Description:   "deposit",
		})
		if err != nil {
			return err
		}
		if err := s.audit.Write(ctx, qtx, entityLedgerEntry, repository.FromPgUUID(entry.ID), &userID, "deposit_submitted", "", domain.StatusPending, nil); err != nil {
			return err
		}
		out = repository.LedgerEntryModel(entry)
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			if res, existingErr := s.existingDeposit(ctx, q, userID, hash); res != nil || existingErr != nil {
				return res, existingErr
			}
		}
		return nil, fmt.Errorf("submit deposit: %w", err)
	}

	observability.IncrementDeposit("submitted")
	zap.L().Info("deposit submitted",
		zap.String("entry_id", out.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("tx_hash", hash),
		zap.String("amount", out.Amount.String()),
	)
	return &DepositResult{Entry: out}, nil
}

// existingDeposit returns a result when hash is already recorded. A nil result
// and nil error mean the hash is unused.
func (s *DepositService) existingDeposit(ctx context.Context, q *repository.Queries, userID uuid.UUID, hash string) (*DepositResult, error) {
	entry, err := q.GetLedgerEntryByTxHash(ctx, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tx hash: %w", err)
	}
	if entry.Type != domain.EntryTypeDeposit || repository.FromPgUUID(entry.UserID) != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTxHash, hash)
	}
	observability.IncrementDeposit("duplicate")
	return &DepositResult{Entry: repository.LedgerEntryModel(entry), Existing: true}, nil
}

type ApprovalResult struct {
	Entry            models.LedgerEntry
	AlreadyProcessed bool
}

// ApproveDeposit claims a pending deposit, re-verifies it on chain and credits
// the user. Not enough confirmations puts the entry back to pending; any other
// verification failure fails it without touching balances.
func (s *DepositService) ApproveDeposit(ctx context.Context, entryID, actorID uuid.UUID) (*ApprovalResult, error) {
	entry, err := s.loadDeposit(ctx, s.store.Queries(), entryID)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		return transitionEntry(ctx, qtx, s.audit, entry, &actorID, "deposit_claimed", domain.StatusPending, domain.StatusProcessing, nil)
	})
	if errors.Is(err, domain.ErrClaimLost) {
		current, loadErr := s.loadDeposit(ctx, s.store.Queries(), entryID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.Status == domain.StatusCompleted {
			return &ApprovalResult{Entry: repository.LedgerEntryModel(current), AlreadyProcessed: true}, nil
		}
		return nil, fmt.Errorf("%w: deposit is %s", domain.ErrClaimLost, current.Status)
	}
	if err != nil {
		return nil, err
	}
	entry.Status = domain.StatusProcessing

	facts, verifyErr := s.verify(ctx, entry)
	switch {
	case verifyErr == nil:
	case errors.Is(verifyErr, domain.ErrInsufficientConfirmations),
		errors.Is(verifyErr, domain.ErrNotMinedYet),
		domain.ClassOf(verifyErr) == domain.ClassInfrastructure:
		if err := s.requeue(ctx, entry, &actorID, facts); err != nil {
			return nil, errors.Join(verifyErr, err)
		}
		observability.IncrementDeposit("requeued")
		return nil, verifyErr
	default:
		if err := s.fail(ctx, entry, &actorID, domain.StatusProcessing, verifyErr.Error()); err != nil {
			return nil, errors.Join(verifyErr, err)
		}
		observability.IncrementDeposit("failed")
		zap.L().Warn("deposit verification failed",
			zap.String("entry_id", entryID.String()),
			zap.Error(verifyErr),
		)
		return nil, verifyErr
	}

	var out models.LedgerEntry
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		res, err := s.ledger.apply(ctx, qtx, balanceChange{
			UserID:       repository.FromPgUUID(entry.UserID),
			Type:         domain.EntryTypeDeposit,
			Amount:       entry.Amount,
			OnChainDelta: entry.Amount,
			RevenueDelta: decimal.Zero,
			DailyUsed:    decimal.Zero,
		})
		if err != nil {
			return err
		}
		rows, err := qtx.CompleteLedgerEntry(ctx, repository.CompleteLedgerEntryParams{
			ID:            entry.ID,
			BalanceBefore: res.Before,
			BalanceAfter:  res.After,
			BlockNumber:   int64Ptr(facts.BlockNumber),
			Confirmations: int64(facts.Confirmations),
		})
		if err != nil {
			return fmt.Errorf("complete deposit: %w", err)
		}
		if err := requireExactlyOne(rows, "complete deposit"); err != nil {
			return err
		}
		metadata := marshalMetadata(map[string]any{
			"amount":        entry.Amount.String(),
			"confirmations": facts.Confirmations,
		})
		if err := recordTransition(ctx, qtx, s.audit, entityLedgerEntry, entryID, &actorID, "deposit_approved", domain.StatusProcessing, domain.StatusCompleted, metadata); err != nil {
			return err
		}

		completed, err := qtx.GetLedgerEntry(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("reload deposit: %w", err)
		}
		out = repository.LedgerEntryModel(completed)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit deposit: %w", err)
	}

	observability.IncrementDeposit("approved")
	zap.L().Info("deposit approved",
		zap.String("entry_id", entryID.String()),
		zap.String("user_id", out.UserID.String()),
		zap.String("amount", out.Amount.String()),
		zap.String("balance_after", out.BalanceAfter.String()),
	)
	return &ApprovalResult{Entry: out}, nil
}

// verify re-checks a claimed deposit. Facts are returned alongside
// ErrInsufficientConfirmations so the caller can record progress.
func (s *DepositService) verify(ctx context.Context, entry repository.LedgerEntry) (*chain.TxFacts, error) {
	if entry.TxHash == nil {
		return nil, fmt.Errorf("%w: deposit has no transaction hash", domain.ErrTxNotFound)
	}
	facts, err := s.verifier.GetTransactionFacts(ctx, *entry.TxHash)
	if err != nil {
		return nil, err
	}
	if facts.Confirmations < s.cfg.Confirmations {
		return facts, fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientConfirmations, facts.Confirmations, s.cfg.Confirmations)
	}

	q := s.store.Queries()
	user, err := q.GetUser(ctx, entry.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	linked := ""
	if user.DepositAddress != nil {
		linked = *user.DepositAddress
	}
	if linked == "" || !domain.SameAddress(linked, facts.From) {
		return nil, fmt.Errorf("%w: linked %q, sender %s", domain.ErrSenderMismatch, linked, facts.From)
	}

	platform, err := s.platform.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !domain.SameAddress(facts.To, platform.Address) {
		return nil, fmt.Errorf("%w: paid %s", domain.ErrRecipientMismatch, facts.To)
	}
	if !facts.Value.Equal(entry.Amount) {
		return nil, fmt.Errorf("%w: chain value %s differs from recorded %s", domain.ErrInvalidAmount, facts.Value, entry.Amount)
	}

	dupes, err := q.CountCompletedDepositsByTxHash(ctx, repository.CountCompletedDepositsByTxHashParams{
		TxHash:    *entry.TxHash,
		ExcludeID: entry.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("count completed deposits: %w", err)
	}
	if dupes > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTxHash, *entry.TxHash)
	}
	return facts, nil
}

func (s *DepositService) requeue(ctx context.Context, entry repository.LedgerEntry, actorID *uuid.UUID, facts *chain.TxFacts) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if facts != nil {
			if _, err := qtx.RecordLedgerEntryChainState(ctx, repository.RecordLedgerEntryChainStateParams{
				ID:            entry.ID,
				BlockNumber:   int64Ptr(facts.BlockNumber),
				Confirmations: int64(facts.Confirmations),
			}); err != nil {
				return fmt.Errorf("record chain state: %w", err)
			}
		}
		return transitionEntry(ctx, qtx, s.audit, entry, actorID, "deposit_requeued", domain.StatusProcessing, domain.StatusPending, nil)
	})
}

func (s *DepositService) fail(ctx context.Context, entry repository.LedgerEntry, actorID *uuid.UUID, from, reason string) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.FailLedgerEntry(ctx, repository.FailLedgerEntryParams{
			ID:            entry.ID,
			FromStatus:    from,
			FailureReason: reason,
		})
		if err != nil {
			return fmt.Errorf("fail deposit: %w", err)
		}
		if rows == 0 {
			return domain.ErrClaimLost
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return err
		}
		return recordTransition(ctx, qtx, s.audit, entityLedgerEntry, repository.FromPgUUID(entry.ID), actorID, "deposit_failed", from, domain.StatusFailed, metadata)
	})
}

// RejectDeposit fails a pending deposit on an operator's decision.
func (s *DepositService) RejectDeposit(ctx context.Context, entryID, actorID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}
	entry, err := s.loadDeposit(ctx, s.store.Queries(), entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: deposit is %s", domain.ErrInvalidStateTransition, entry.Status)
	}
	if err := s.fail(ctx, entry, &actorID, domain.StatusPending, reason); err != nil {
		return nil, err
	}
	observability.IncrementDeposit("rejected")

	rejected, err := s.loadDeposit(ctx, s.store.Queries(), entryID)
	if err != nil {
		return nil, err
	}
	out := repository.LedgerEntryModel(rejected)
	return &out, nil
}

// RecoverStaleDepositClaims returns deposits stuck in processing, typically
// after a crash between claim and verification, to pending.
func (s *DepositService) RecoverStaleDepositClaims(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StaleClaimTimeout)
	recovered := 0
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		stale, err := qtx.GetStaleProcessingEntries(ctx, repository.GetStaleProcessingEntriesParams{
			Type:      domain.EntryTypeDeposit,
			UpdatedAt: repository.ToPgTime(cutoff),
			Limit:     staleSweepBatch,
		})
		if err != nil {
			return fmt.Errorf("load stale deposits: %w", err)
		}
		for _, entry := range stale {
			if err := transitionEntry(ctx, qtx, s.audit, entry, nil, "deposit_claim_recovered", domain.StatusProcessing, domain.StatusPending, nil); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		for i := 0; i < recovered; i++ {
			observability.IncrementStaleClaim("deposit", "requeued")
		}
		zap.L().Warn("recovered stale deposit claims", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *DepositService) ListPendingDeposits(ctx context.Context, limit, offset int32) ([]models.LedgerEntry, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListLedgerEntriesByStatus(ctx, repository.ListLedgerEntriesByStatusParams{
		Type:   domain.EntryTypeDeposit,
		Status: domain.StatusPending,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	out := make([]models.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.LedgerEntryModel(row))
	}
	return out, nil
}

func (s *DepositService) loadDeposit(ctx context.Context, q *repository.Queries, entryID uuid.UUID) (repository.LedgerEntry, error) {
	entry, err := q.GetLedgerEntry(ctx, repository.ToPgUUID(entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.LedgerEntry{}, domain.ErrEntryNotFound
		}
		return repository.LedgerEntry{}, fmt.Errorf("get deposit: %w", err)
	}
	if entry.Type != domain.EntryTypeDeposit {
		return repository.LedgerEntry{}, domain.ErrEntryNotFound
	}
	return entry, nil
}
