package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/alert"
	"github.com/ayo6706/custodial-ledger/internal/chain"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/models"
	"github.com/ayo6706/custodial-ledger/internal/observability"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultWithdrawalConfirmations = 3
	defaultConfirmationTimeout     = 10 * time.Minute
	defaultBroadcastTimeout        = time.Hour
)

type WithdrawalConfig struct {
	// Policy.PlatformDailyLimit is taken from the active platform wallet row.
	Policy              domain.WithdrawalPolicy
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	StaleClaimTimeout   time.Duration
	// BroadcastTimeout bounds how long a broadcast transfer may stay unmined
	// before the stale sweep fails its request.
	BroadcastTimeout time.Duration
	// MinWait is how long a request stays cancellable before the worker may
	// claim it.
	MinWait time.Duration
}

// WithdrawalService runs withdrawal requests from creation to settlement.
type WithdrawalService struct {
	store    QueryStore
	audit    *AuditService
	ledger   *LedgerService
	platform *PlatformWalletService
	sender   ValueSender
	verifier TransactionVerifier
	signer   PlatformSignerFunc
	alerter  alert.Alerter
	cfg      WithdrawalConfig
}

func NewWithdrawalService(
	store QueryStore,
	audit *AuditService,
	ledger *LedgerService,
	platform *PlatformWalletService,
	sender ValueSender,
	verifier TransactionVerifier,
	signer PlatformSignerFunc,
	alerter alert.Alerter,
	cfg WithdrawalConfig,
) *WithdrawalService {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = defaultWithdrawalConfirmations
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if cfg.StaleClaimTimeout <= 0 {
		cfg.StaleClaimTimeout = defaultStaleClaimTimeout
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = defaultBroadcastTimeout
	}
	return &WithdrawalService{
		store:    store,
		audit:    audit,
		ledger:   ledger,
		platform: platform,
		sender:   sender,
		verifier: verifier,
		signer:   signer,
		alerter:  alerter,
		cfg:      cfg,
	}
}

// MinWait is the cancellation window before a request becomes claimable.
func (s *WithdrawalService) MinWait() time.Duration {
	return s.cfg.MinWait
}

type CreateWithdrawalInput struct {
	UserID             uuid.UUID
	Amount             decimal.Decimal
	DestinationAddress string
	IPAddress          string
	UserAgent          string
}

// CreateWithdrawalRequest validates a request against the user's available
// balance and every withdrawal limit while holding the user row lock, then
// records it as pending.
func (s *WithdrawalService) CreateWithdrawalRequest(ctx context.Context, in CreateWithdrawalInput) (*models.WithdrawalRequest, error) {
	destination, err := domain.NormalizeAddress(in.DestinationAddress)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}

	var out models.WithdrawalRequest
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		user, err := qtx.GetUserForUpdate(ctx, repository.ToPgUUID(in.UserID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		platform, err := s.platform.active(ctx, qtx)
		if err != nil {
			return err
		}
		if domain.SameAddress(destination, platform.Address) {
			return fmt.Errorf("%w: cannot withdraw to the platform address", domain.ErrInvalidAddress)
		}

		usage, err := s.usage(ctx, qtx, user, platform)
		if err != nil {
			return err
		}
		policy := s.cfg.Policy
		policy.PlatformDailyLimit = platform.DailyWithdrawalLimit
		if err := policy.Check(in.Amount, usage); err != nil {
			return err
		}

		req, err := qtx.InsertWithdrawalRequest(ctx, repository.InsertWithdrawalRequestParams{
			ID:                 repository.ToPgUUID(uuid.New()),
			UserID:             user.ID,
			Amount:             in.Amount,
			DestinationAddress: destination,
			IpAddress:          in.IPAddress,
			UserAgent:          in.UserAgent,
		})
		if err != nil {
			return fmt.Errorf("insert withdrawal request: %w", err)
		}
		if err := s.refreshReserved(ctx, qtx, platform.ID); err != nil {
			return err
		}
		metadata := marshalMetadata(map[string]any{
			"amount":      in.Amount.String(),
			"destination": destination,
		})
		if err := s.audit.Write(ctx, qtx, entityWithdrawal, repository.FromPgUUID(req.ID), &in.UserID, "withdrawal_requested", "", domain.StatusPending, metadata); err != nil {
			return err
		}
		out = repository.WithdrawalRequestModel(req)
		return nil
	})
	if err != nil {
		var policyErr *domain.PolicyError
		if errors.As(err, &policyErr) {
			observability.IncrementWithdrawal("rejected")
		}
		return nil, err
	}

	observability.IncrementWithdrawal("requested")
	zap.L().Info("withdrawal requested",
		zap.String("withdrawal_id", out.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("amount", in.Amount.String()),
		zap.String("destination", destination),
	)
	return &out, nil
}

// usage counts every request that has not failed toward the daily caps, so
// several pending requests cannot jointly exceed them.
func (s *WithdrawalService) usage(ctx context.Context, qtx *repository.Queries, user repository.User, platform repository.PlatformWallet) (domain.WithdrawalUsage, error) {
	now := time.Now()
	outstanding, err := qtx.SumOutstandingWithdrawals(ctx, user.ID)
	if err != nil {
		return domain.WithdrawalUsage{}, fmt.Errorf("sum outstanding withdrawals: %w", err)
	}
	usedToday, err := qtx.SumUserWithdrawalsSince(ctx, repository.SumUserWithdrawalsSinceParams{
		UserID:   user.ID,
		Since:    repository.ToPgTime(startOfDay(now)),
		Statuses: []string{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted},
	})
	if err != nil {
		return domain.WithdrawalUsage{}, fmt.Errorf("sum daily withdrawals: %w", err)
	}
	allOutstanding, err := qtx.SumAllOutstandingWithdrawals(ctx)
	if err != nil {
		return domain.WithdrawalUsage{}, fmt.Errorf("sum platform outstanding: %w", err)
	}
	lastHour, err := qtx.CountUserWithdrawalsSince(ctx, repository.CountUserWithdrawalsSinceParams{
		UserID: user.ID,
		Since:  repository.ToPgTime(now.Add(-time.Hour)),
	})
	if err != nil {
		return domain.WithdrawalUsage{}, fmt.Errorf("count recent withdrawals: %w", err)
	}
	return domain.WithdrawalUsage{
		Available:         user.VirtualBalance.Sub(outstanding),
		UserUsedToday:     usedToday,
		PlatformUsedToday: platform.DailyWithdrawalUsed.Add(allOutstanding),
		RequestsLastHour:  int(lastHour),
	}, nil
}

// refreshReserved recomputes the platform's reserved_for_withdrawals from the
// outstanding requests. Callers hold a transaction that changed one of them.
func (s *WithdrawalService) refreshReserved(ctx context.Context, qtx *repository.Queries, platformID pgtype.UUID) error {
	outstanding, err := qtx.SumAllOutstandingWithdrawals(ctx)
	if err != nil {
		return fmt.Errorf("sum platform outstanding: %w", err)
	}
	if _, err := qtx.SetReservedForWithdrawals(ctx, repository.SetReservedForWithdrawalsParams{
		ID:       platformID,
		Reserved: outstanding,
	}); err != nil {
		return fmt.Errorf("set reserved for withdrawals: %w", err)
	}
	return nil
}

func (s *WithdrawalService) refreshActiveReserved(ctx context.Context, qtx *repository.Queries) error {
	platform, err := s.platform.active(ctx, qtx)
	if err != nil {
		return err
	}
	return s.refreshReserved(ctx, qtx, platform.ID)
}

// ProcessResult is the outcome of one processing attempt.
type ProcessResult struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Status       string    `json:"status"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type BatchResult struct {
	Processed int             `json:"processed"`
	Results   []ProcessResult `json:"results"`
}

// ProcessPendingWithdrawals recovers stale claims, then settles up to limit
// requests older than minWait one at a time. A failing item does not stop
// the batch.
func (s *WithdrawalService) ProcessPendingWithdrawals(ctx context.Context, limit int, minWait time.Duration) (*BatchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if _, err := s.RecoverStaleWithdrawals(ctx); err != nil {
		zap.L().Warn("stale withdrawal sweep failed", zap.Error(err))
	}

	cutoff := time.Now().Add(-minWait)
	ids, err := s.store.Queries().ListEligibleWithdrawalIDs(ctx, repository.ListEligibleWithdrawalIDsParams{
		RequestedBefore: repository.ToPgTime(cutoff),
		Limit:           int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list eligible withdrawals: %w", err)
	}

	batch := &BatchResult{Results: make([]ProcessResult, 0, len(ids))}
	if len(ids) > 0 {
		signer, err := s.platformSigner(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			res, err := s.process(ctx, signer, repository.FromPgUUID(id), cutoff)
			if errors.Is(err, domain.ErrClaimLost) {
				continue
			}
			batch.Processed++
			batch.Results = append(batch.Results, res)
		}
	}

	if pending, err := s.store.Queries().CountWithdrawalsByStatus(ctx, domain.StatusPending); err == nil {
		observability.SetPendingWithdrawals(pending)
	}
	return batch, nil
}

// ProcessWithdrawal settles a single request regardless of its age.
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, id uuid.UUID) (*ProcessResult, error) {
	if _, err := s.RecoverStaleWithdrawals(ctx); err != nil {
		zap.L().Warn("stale withdrawal sweep failed", zap.Error(err))
	}
	signer, err := s.platformSigner(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.process(ctx, signer, id, time.Now())
	if errors.Is(err, domain.ErrClaimLost) {
		req, loadErr := s.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(id))
		if errors.Is(loadErr, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		if loadErr != nil {
			return nil, fmt.Errorf("get withdrawal: %w", loadErr)
		}
		return nil, fmt.Errorf("%w: withdrawal is %s", domain.ErrClaimLost, req.Status)
	}
	return &res, err
}

// platformSigner loads the payout signer and checks that it controls the
// active platform address before anything is claimed.
func (s *WithdrawalService) platformSigner(ctx context.Context) (chain.TxSigner, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("%w: no platform signer", domain.ErrKeyNotFound)
	}
	signer, err := s.signer(ctx)
	if err != nil {
		return nil, err
	}
	platform, err := s.platform.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !domain.SameAddress(signer.Address().Hex(), platform.Address) {
		return nil, fmt.Errorf("%w: signer %s, platform %s", domain.ErrSignerMismatch, signer.Address().Hex(), platform.Address)
	}
	return signer, nil
}

// process returns domain.ErrClaimLost when the request was not claimable.
// Any other error is also reflected in the returned result.
func (s *WithdrawalService) process(ctx context.Context, signer chain.TxSigner, id uuid.UUID, requestedBefore time.Time) (ProcessResult, error) {
	result := ProcessResult{WithdrawalID: id}
	pgID := repository.ToPgUUID(id)

	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.ClaimWithdrawalRequest(ctx, repository.ClaimWithdrawalRequestParams{
			ID:              pgID,
			RequestedBefore: repository.ToPgTime(requestedBefore),
		})
		if err != nil {
			return fmt.Errorf("claim withdrawal: %w", err)
		}
		if rows == 0 {
			return domain.ErrClaimLost
		}
		return recordTransition(ctx, qtx, s.audit, entityWithdrawal, id, nil, "withdrawal_claimed", domain.StatusPending, domain.StatusProcessing, nil)
	})
	if err != nil {
		return result, err
	}
	result.Status = domain.StatusProcessing

	q := s.store.Queries()
	req, err := q.GetWithdrawalRequest(ctx, pgID)
	if err != nil {
		return s.abort(ctx, result, fmt.Errorf("load withdrawal: %w", err), decimal.Zero)
	}
	user, err := q.GetUser(ctx, req.UserID)
	if err != nil {
		return s.abort(ctx, result, fmt.Errorf("load user: %w", err), decimal.Zero)
	}
	if user.VirtualBalance.LessThan(req.Amount) {
		return s.abort(ctx, result, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientBalance, user.VirtualBalance, req.Amount), decimal.Zero)
	}

	started := time.Now()
	// Bookkeeping around a signed transfer must not be cut short by the caller.
	settleCtx := context.WithoutCancel(ctx)
	// The signed hash is committed before submission. A processing request
	// without a hash therefore never reached the network and may be requeued.
	record := func(_ context.Context, txHash string) error {
		return s.store.RunInTx(settleCtx, func(qtx *repository.Queries) error {
			rows, err := qtx.SetWithdrawalTxHash(settleCtx, repository.SetWithdrawalTxHashParams{ID: pgID, TxHash: txHash})
			if err != nil {
				return err
			}
			if err := requireExactlyOne(rows, "set withdrawal tx hash"); err != nil {
				return err
			}
			return s.audit.Write(settleCtx, qtx, entityWithdrawal, id, nil, "withdrawal_signed", domain.StatusProcessing, domain.StatusProcessing, marshalMetadata(map[string]any{"tx_hash": txHash}))
		})
	}
	hash, err := s.sender.SendValue(ctx, signer, req.DestinationAddress, req.Amount, record)
	if err != nil {
		if hash == "" {
			return s.abort(ctx, result, fmt.Errorf("broadcast: %w", err), decimal.Zero)
		}
		result.TxHash = hash
		// A submission error can hide an accepted transfer. Fail only when the
		// node has never seen it.
		if _, lookupErr := s.verifier.GetTransactionFacts(settleCtx, hash); errors.Is(lookupErr, domain.ErrTxNotFound) {
			return s.abort(ctx, result, fmt.Errorf("broadcast: %w", err), decimal.Zero)
		}
		zap.L().Warn("withdrawal submission errored but transfer may be live",
			zap.String("withdrawal_id", id.String()),
			zap.String("tx_hash", hash),
			zap.Error(err),
		)
	}
	result.TxHash = hash

	facts, err := s.sender.WaitForConfirmations(ctx, hash, s.cfg.Confirmations, s.cfg.ConfirmationTimeout)
	if err != nil {
		if errors.Is(err, domain.ErrChainExecutionFailed) {
			gas := decimal.Zero
			if facts != nil {
				gas = facts.GasCost
			}
			return s.abort(ctx, result, err, gas)
		}
		// The transfer may still land. The stale sweep settles the request
		// from the chain within BroadcastTimeout and never re-broadcasts.
		raise(ctx, s.alerter, alert.SeverityWarning, "Withdrawal awaiting confirmation", map[string]string{
			"withdrawal_id": id.String(),
			"tx_hash":       hash,
			"error":         err.Error(),
		})
		result.Error = err.Error()
		return result, err
	}

	if err := s.finalize(settleCtx, req, hash, facts); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			result.Status = domain.StatusCompleted
			return result, nil
		}
		zap.L().Error("withdrawal finalization failed", zap.String("withdrawal_id", id.String()), zap.String("tx_hash", hash), zap.Error(err))
		raise(ctx, s.alerter, alert.SeverityCritical, "Withdrawal sent but not recorded", map[string]string{
			"withdrawal_id": id.String(),
			"tx_hash":       hash,
			"error":         err.Error(),
		})
		result.Error = err.Error()
		return result, err
	}

	observability.ObserveWithdrawalSettlement(time.Since(started))
	result.Status = domain.StatusCompleted
	return result, nil
}

// abort fails a claimed request with retry_count+1. A positive gas cost was
// spent by a reverted transfer and is charged to platform revenue.
func (s *WithdrawalService) abort(ctx context.Context, result ProcessResult, cause error, gas decimal.Decimal) (ProcessResult, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.failRequest(ctx, result.WithdrawalID, domain.StatusProcessing, cause.Error(), 1, gas); err != nil {
		zap.L().Error("failed to mark withdrawal failed", zap.String("withdrawal_id", result.WithdrawalID.String()), zap.Error(err))
		result.Error = cause.Error()
		return result, errors.Join(cause, err)
	}
	observability.IncrementWithdrawal("failed")
	zap.L().Warn("withdrawal failed", zap.String("withdrawal_id", result.WithdrawalID.String()), zap.Error(cause))
	result.Status = domain.StatusFailed
	result.Error = cause.Error()
	return result, cause
}

func (s *WithdrawalService) failRequest(ctx context.Context, id uuid.UUID, from, reason string, retryIncrement int32, gas decimal.Decimal) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.FailWithdrawalRequest(ctx, repository.FailWithdrawalRequestParams{
			ID:             repository.ToPgUUID(id),
			FromStatus:     from,
			FailureReason:  reason,
			RetryIncrement: retryIncrement,
		})
		if err != nil {
			return fmt.Errorf("fail withdrawal: %w", err)
		}
		if rows == 0 {
			return domain.ErrClaimLost
		}
		platform, err := s.platform.active(ctx, qtx)
		if err != nil {
			return err
		}
		if gas.IsPositive() {
			if _, err := qtx.ApplyPlatformAggregates(ctx, repository.ApplyPlatformAggregatesParams{
				ID:                  platform.ID,
				TotalBalance:        gas.Neg(),
				UserBalances:        decimal.Zero,
				PlatformRevenue:     gas.Neg(),
				DailyWithdrawalUsed: decimal.Zero,
			}); err != nil {
				return fmt.Errorf("charge reverted gas: %w", err)
			}
		}
		if err := s.refreshReserved(ctx, qtx, platform.ID); err != nil {
			return err
		}
		metadata, err := marshalReasonMetadata(reason)
		if err != nil {
			return err
		}
		return recordTransition(ctx, qtx, s.audit, entityWithdrawal, id, nil, "withdrawal_failed", from, domain.StatusFailed, metadata)
	})
}

// finalize settles a confirmed transfer: the request completes, the user is
// debited and a completed withdrawal entry mirrors the request. Returns
// domain.ErrClaimLost when the request was already settled.
func (s *WithdrawalService) finalize(ctx context.Context, req repository.WithdrawalRequest, hash string, facts *chain.TxFacts) error {
	id := repository.FromPgUUID(req.ID)
	var overdrawn *balanceResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.CompleteWithdrawalRequest(ctx, repository.CompleteWithdrawalRequestParams{
			ID:          req.ID,
			TxHash:      hash,
			GasCost:     facts.GasCost,
			BlockNumber: int64Ptr(facts.BlockNumber),
		})
		if err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		if rows == 0 {
			return domain.ErrClaimLost
		}

		res, err := s.ledger.apply(ctx, qtx, balanceChange{
			UserID:         repository.FromPgUUID(req.UserID),
			Type:           domain.EntryTypeWithdrawal,
			Amount:         req.Amount,
			OnChainDelta:   req.Amount.Add(facts.GasCost).Neg(),
			RevenueDelta:   facts.GasCost.Neg(),
			DailyUsed:      req.Amount,
			AllowOverdraft: true,
		})
		if err != nil {
			return err
		}
		if res.After.IsNegative() {
			overdrawn = &res
		}
		if err := s.refreshReserved(ctx, qtx, res.Platform.ID); err != nil {
			return err
		}

		from := res.Platform.Address
		if _, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
			ID:            repository.ToPgUUID(uuid.New()),
			Type:          domain.EntryTypeWithdrawal,
			UserID:        req.UserID,
			WalletAddress: res.User.WalletAddress,
			Amount:        req.Amount,
			BalanceBefore: res.Before,
			BalanceAfter:  res.After,
			Status:        domain.StatusCompleted,
			TxHash:        &hash,
			FromAddress:   &from,
			ToAddress:     &req.DestinationAddress,
			BlockNumber:   int64Ptr(facts.BlockNumber),
			Confirmations: int64(facts.Confirmations),
			Description:   "withdrawal " + id.String(),
		}); err != nil {
			return fmt.Errorf("insert withdrawal entry: %w", err)
		}

		metadata := marshalMetadata(map[string]any{
			"tx_hash":  hash,
			"gas_cost": facts.GasCost.String(),
			"block":    facts.BlockNumber,
		})
		return recordTransition(ctx, qtx, s.audit, entityWithdrawal, id, nil, "withdrawal_completed", domain.StatusProcessing, domain.StatusCompleted, metadata)
	})
	if err != nil {
		return err
	}

	observability.IncrementWithdrawal("completed")
	zap.L().Info("withdrawal completed",
		zap.String("withdrawal_id", id.String()),
		zap.String("tx_hash", hash),
		zap.String("amount", req.Amount.String()),
		zap.String("gas_cost", facts.GasCost.String()),
	)
	if overdrawn != nil {
		raise(ctx, s.alerter, alert.SeverityCritical, "Withdrawal overdrew user balance", map[string]string{
			"withdrawal_id": id.String(),
			"user_id":       repository.FromPgUUID(req.UserID).String(),
			"balance_after": overdrawn.After.String(),
		})
	}
	return nil
}

type StaleSweepResult struct {
	Requeued   int `json:"requeued"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Unresolved int `json:"unresolved"`
}

// RecoverStaleWithdrawals resolves requests stuck in processing. Requests that
// were never signed go back to pending. Signed ones are settled from the
// chain: confirmed transfers complete; reverted, dropped or long-unmined ones
// fail with retry_count+1. Only RPC errors leave a request in processing.
func (s *WithdrawalService) RecoverStaleWithdrawals(ctx context.Context) (*StaleSweepResult, error) {
	cutoff := time.Now().Add(-s.cfg.StaleClaimTimeout)
	stale, err := s.store.Queries().GetStaleProcessingWithdrawals(ctx, repository.GetStaleProcessingWithdrawalsParams{
		UpdatedAt: repository.ToPgTime(cutoff),
		Limit:     staleSweepBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("load stale withdrawals: %w", err)
	}

	out := &StaleSweepResult{}
	for _, req := range stale {
		id := repository.FromPgUUID(req.ID)
		if req.TxHash == nil {
			err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
				rows, err := qtx.RequeueWithdrawalRequest(ctx, req.ID)
				if err != nil {
					return fmt.Errorf("requeue withdrawal: %w", err)
				}
				if rows == 0 {
					return domain.ErrClaimLost
				}
				return recordTransition(ctx, qtx, s.audit, entityWithdrawal, id, nil, "withdrawal_claim_recovered", domain.StatusProcessing, domain.StatusPending, nil)
			})
			if err != nil {
				if !errors.Is(err, domain.ErrClaimLost) {
					return out, err
				}
				continue
			}
			out.Requeued++
			observability.IncrementStaleClaim("withdrawal", "requeued")
			continue
		}

		hash := *req.TxHash
		facts, err := s.verifier.GetTransactionFacts(ctx, hash)
		switch {
		case err == nil && facts.Confirmations >= s.cfg.Confirmations:
			if err := s.finalize(ctx, req, hash, facts); err != nil && !errors.Is(err, domain.ErrClaimLost) {
				return out, err
			}
			out.Completed++
			observability.IncrementStaleClaim("withdrawal", "completed")
		case err == nil:
			// Mined but still confirming; a later sweep settles it.
		case errors.Is(err, domain.ErrChainExecutionFailed):
			gas := decimal.Zero
			if facts != nil {
				gas = facts.GasCost
			}
			if err := s.failStale(ctx, out, id, err.Error(), gas); err != nil {
				return out, err
			}
		case errors.Is(err, domain.ErrTxNotFound):
			if err := s.failStale(ctx, out, id, "transaction dropped: "+hash+" is unknown to the node", decimal.Zero); err != nil {
				return out, err
			}
		case errors.Is(err, domain.ErrNotMinedYet):
			claimedAt := req.UpdatedAt.Time
			if req.ProcessedAt.Valid {
				claimedAt = req.ProcessedAt.Time
			}
			if time.Since(claimedAt) < s.cfg.BroadcastTimeout {
				continue
			}
			if err := s.failStale(ctx, out, id, "transaction not mined within "+s.cfg.BroadcastTimeout.String()+": "+hash, decimal.Zero); err != nil {
				return out, err
			}
			// The transfer is still in a mempool and can land after this.
			raise(ctx, s.alerter, alert.SeverityCritical, "Unmined withdrawal failed", map[string]string{
				"withdrawal_id": id.String(),
				"tx_hash":       hash,
			})
		default:
			out.Unresolved++
			observability.IncrementStaleClaim("withdrawal", "unresolved")
			raise(ctx, s.alerter, alert.SeverityCritical, "Stale withdrawal needs operator review", map[string]string{
				"withdrawal_id": id.String(),
				"tx_hash":       hash,
				"error":         err.Error(),
			})
		}
	}
	if len(stale) > 0 {
		zap.L().Warn("stale withdrawal sweep",
			zap.Int("requeued", out.Requeued),
			zap.Int("completed", out.Completed),
			zap.Int("failed", out.Failed),
			zap.Int("unresolved", out.Unresolved),
		)
	}
	return out, nil
}

func (s *WithdrawalService) failStale(ctx context.Context, out *StaleSweepResult, id uuid.UUID, reason string, gas decimal.Decimal) error {
	if err := s.failRequest(ctx, id, domain.StatusProcessing, reason, 1, gas); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			return nil
		}
		return err
	}
	out.Failed++
	observability.IncrementWithdrawal("failed")
	observability.IncrementStaleClaim("withdrawal", "failed")
	return nil
}

// CancelWithdrawal fails a request that has not been claimed yet.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, userID, id uuid.UUID) (*models.WithdrawalRequest, error) {
	req, err := s.GetWithdrawal(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: withdrawal is %s", domain.ErrInvalidStateTransition, req.Status)
	}
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.FailWithdrawalRequest(ctx, repository.FailWithdrawalRequestParams{
			ID:             repository.ToPgUUID(id),
			FromStatus:     domain.StatusPending,
			FailureReason:  domain.CancelledByUserReason,
			RetryIncrement: 0,
		})
		if err != nil {
			return fmt.Errorf("cancel withdrawal: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: withdrawal was claimed", domain.ErrInvalidStateTransition)
		}
		if err := s.refreshActiveReserved(ctx, qtx); err != nil {
			return err
		}
		return recordTransition(ctx, qtx, s.audit, entityWithdrawal, id, &userID, "withdrawal_cancelled", domain.StatusPending, domain.StatusFailed, nil)
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementWithdrawal("cancelled")
	return s.GetWithdrawal(ctx, userID, id)
}

// GetWithdrawal returns a request owned by userID.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, userID, id uuid.UUID) (*models.WithdrawalRequest, error) {
	row, err := s.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	if repository.FromPgUUID(row.UserID) != userID {
		return nil, domain.ErrWithdrawalNotFound
	}
	out := repository.WithdrawalRequestModel(row)
	return &out, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.WithdrawalRequest, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListWithdrawalRequestsByUser(ctx, repository.ListWithdrawalRequestsByUserParams{
		UserID: repository.ToPgUUID(userID),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	out := make([]models.WithdrawalRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.WithdrawalRequestModel(row))
	}
	return out, nil
}
