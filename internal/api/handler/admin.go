package handler

import (
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdminHandler groups the operator endpoints that are not tied to a single
// deposit or withdrawal.
type AdminHandler struct {
	ledger     *service.LedgerService
	reconciler *service.ReconciliationService
	platform   *service.PlatformWalletService
	audit      *service.AuditService
}

func NewAdminHandler(ledger *service.LedgerService, reconciler *service.ReconciliationService, platform *service.PlatformWalletService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{ledger: ledger, reconciler: reconciler, platform: platform, audit: audit}
}

type AdjustBalanceRequest struct {
	UserID uuid.UUID       `json:"user_id"`
	Mode   string          `json:"mode"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type RecordEntryRequest struct {
	UserID      uuid.UUID       `json:"user_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type RotatePlatformWalletRequest struct {
	Address string `json:"address"`
}

// AdjustBalance handles POST /v1/admin/balances/adjust
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req AdjustBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.ledger.AdjustBalance(r.Context(), service.AdjustInput{
		UserID:  req.UserID,
		Mode:    req.Mode,
		Amount:  req.Amount,
		Reason:  req.Reason,
		ActorID: actorID,
	})
	if err != nil {
		RespondServiceError(w, r, err, "adjust balance")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// RecordEntry handles POST /v1/admin/ledger-entries
// It books purchases, sales, royalties, refunds and platform fees.
func (h *AdminHandler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req RecordEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.ledger.RecordEntry(r.Context(), service.RecordEntryInput{
		UserID:      req.UserID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     &actorID,
	})
	if err != nil {
		RespondServiceError(w, r, err, "record entry")
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

// Reconcile handles POST /v1/admin/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		RespondServiceError(w, r, err, "reconcile")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// ListReconciliations handles GET /v1/admin/reconciliations
func (h *AdminHandler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	limit, _ := pageParams(r)
	reports, err := h.reconciler.ListReports(r.Context(), limit)
	if err != nil {
		RespondServiceError(w, r, err, "list reconciliations")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ResetLimits handles POST /v1/admin/limits/reset
func (h *AdminHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	pw, err := h.reconciler.ResetDailyLimits(r.Context(), &actorID)
	if err != nil {
		RespondServiceError(w, r, err, "reset limits")
		return
	}
	RespondJSON(w, http.StatusOK, pw)
}

// GetPlatformWallet handles GET /v1/admin/platform-wallet
func (h *AdminHandler) GetPlatformWallet(w http.ResponseWriter, r *http.Request) {
	pw, err := h.platform.Get(r.Context())
	if err != nil {
		RespondServiceError(w, r, err, "get platform wallet")
		return
	}
	RespondJSON(w, http.StatusOK, pw)
}

// RotatePlatformWallet handles POST /v1/admin/platform-wallet/rotate
func (h *AdminHandler) RotatePlatformWallet(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req RotatePlatformWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pw, err := h.platform.Rotate(r.Context(), req.Address, actorID)
	if err != nil {
		RespondServiceError(w, r, err, "rotate platform wallet")
		return
	}
	RespondJSON(w, http.StatusOK, pw)
}

// AuditTrail handles GET /v1/admin/audit/{entity}/{id}
func (h *AdminHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	events, err := h.audit.History(r.Context(), chi.URLParam(r, "entity"), id, limit, offset)
	if err != nil {
		RespondServiceError(w, r, err, "audit trail")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"events": events})
}
