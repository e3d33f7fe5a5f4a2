package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/ayo6706/custodial-ledger/internal/repository"
	"github.com/google/uuid"
)

// recordTransition validates a status move that the caller has already applied
// with a conditional update, then appends it to the audit log in the same
// transaction.
func recordTransition(ctx context.Context, qtx *repository.Queries, audit *AuditService, entityType auditEntity, entityID uuid.UUID, actorID *uuid.UUID, action, from, to string, metadata []byte) error {
	if from != "" && !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", domain.ErrInvalidStateTransition, entityType, from, to)
	}
	return audit.Write(ctx, qtx, entityType, entityID, actorID, action, from, to, metadata)
}

// transitionEntry moves a ledger entry between statuses with a conditional
// update. Zero affected rows means another caller got there first.
func transitionEntry(ctx context.Context, qtx *repository.Queries, audit *AuditService, entry repository.LedgerEntry, actorID *uuid.UUID, action, from, to string, metadata []byte) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: ledger entry %s -> %s", domain.ErrInvalidStateTransition, from, to)
	}
	rows, err := qtx.TransitionLedgerEntry(ctx, repository.TransitionLedgerEntryParams{
		ID:         entry.ID,
		Type:       entry.Type,
		FromStatus: from,
		ToStatus:   to,
	})
	if err != nil {
		return fmt.Errorf("transition ledger entry: %w", err)
	}
	if rows == 0 {
		return domain.ErrClaimLost
	}
	return recordTransition(ctx, qtx, audit, entityLedgerEntry, repository.FromPgUUID(entry.ID), actorID, action, from, to, metadata)
}
