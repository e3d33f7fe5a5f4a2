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
	"github.com/jackc/pgx/v5/pgtype"
)

// auditEntity names the kind of row an audit record describes.
type auditEntity string

const (
	entityLedgerEntry    auditEntity = "ledger_entry"
	entityWithdrawal     auditEntity = "withdrawal_request"
	entityPlatformWallet auditEntity = "platform_wallet"
)

func parseAuditEntity(raw string) (auditEntity, error) {
	switch e := auditEntity(strings.ToLower(strings.TrimSpace(raw))); e {
	case entityLedgerEntry, entityWithdrawal, entityPlatformWallet:
		return e, nil
	}
	return "", fmt.Errorf("%w: unknown audit entity %q", domain.ErrInvalidType, raw)
}

var errAuditAction = errors.New("audit action is required")

// AuditService writes the append-only trail of every balance and status
// change. Records are written inside the caller's transaction so the trail
// and the change commit together.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write appends one record. A nil actorID marks a worker or sweep action;
// otherwise it is the user or admin who made the request.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entity auditEntity, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if strings.TrimSpace(action) == "" {
		return errAuditAction
	}
	var actor pgtype.UUID
	if actorID != nil && *actorID != uuid.Nil {
		actor = repository.ToPgUUID(*actorID)
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: string(entity),
		EntityID:   repository.ToPgUUID(entityID),
		ActorID:    actor,
		Action:     action,
		PrevState:  optionalText(prevState),
		NextState:  optionalText(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log %s %s: %w", entity, action, err)
	}
	return nil
}

// History returns the trail of one entity, oldest first.
func (s *AuditService) History(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int32) ([]models.AuditEvent, error) {
	entity, err := parseAuditEntity(entityType)
	if err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	rows, err := s.store.Queries().ListAuditLogByEntity(ctx, repository.ListAuditLogByEntityParams{
		EntityType: string(entity),
		EntityID:   repository.ToPgUUID(entityID),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	out := make([]models.AuditEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.AuditEventModel(row))
	}
	return out, nil
}

func optionalText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
