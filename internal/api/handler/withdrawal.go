package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalHandler handles user withdrawal requests and the operator
// processing trigger.
type WithdrawalHandler struct {
	svc *service.WithdrawalService
	// eta is added to requested_at to estimate completion.
	eta time.Duration
}

func NewWithdrawalHandler(svc *service.WithdrawalService, eta time.Duration) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc, eta: eta}
}

type CreateWithdrawalRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
}

type CreateWithdrawalResponse struct {
	WithdrawalID        string          `json:"withdrawal_id"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	EstimatedCompletion time.Time       `json:"estimated_completion"`
}

type ProcessWithdrawalsRequest struct {
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// CreateWithdrawal handles POST /v1/withdrawals
// It validates limits and returns 202 Accepted; settlement happens later.
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req CreateWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	wr, err := h.svc.CreateWithdrawalRequest(r.Context(), service.CreateWithdrawalInput{
		UserID:             userID,
		Amount:             req.Amount,
		DestinationAddress: req.DestinationAddress,
		IPAddress:          clientIP(r),
		UserAgent:          r.UserAgent(),
	})
	if err != nil {
		RespondServiceError(w, r, err, "create withdrawal")
		return
	}

	RespondJSON(w, http.StatusAccepted, CreateWithdrawalResponse{
		WithdrawalID:        wr.ID.String(),
		Status:              wr.Status,
		Amount:              wr.Amount,
		EstimatedCompletion: wr.RequestedAt.Add(h.svc.MinWait() + h.eta).UTC(),
	})
}

// ListWithdrawals handles GET /v1/withdrawals
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	list, err := h.svc.ListWithdrawals(r.Context(), userID, limit, offset)
	if err != nil {
		RespondServiceError(w, r, err, "list withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"withdrawals": list})
}

// GetWithdrawal handles GET /v1/withdrawals/{id}
// Requests owned by another user are reported as not found.
func (h *WithdrawalHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	wr, err := h.svc.GetWithdrawal(r.Context(), userID, id)
	if err != nil {
		RespondServiceError(w, r, err, "get withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// CancelWithdrawal handles POST /v1/withdrawals/{id}/cancel
func (h *WithdrawalHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	wr, err := h.svc.CancelWithdrawal(r.Context(), userID, id)
	if err != nil {
		RespondServiceError(w, r, err, "cancel withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wr)
}

// ProcessWithdrawals handles POST /v1/admin/withdrawals/process
// With a withdrawal_id only that request is settled; otherwise a batch of
// eligible requests is processed.
func (h *WithdrawalHandler) ProcessWithdrawals(w http.ResponseWriter, r *http.Request) {
	var req ProcessWithdrawalsRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	if req.WithdrawalID != nil {
		res, err := h.svc.ProcessWithdrawal(r.Context(), *req.WithdrawalID)
		if err != nil && res == nil {
			RespondServiceError(w, r, err, "process withdrawal")
			return
		}
		RespondJSON(w, http.StatusOK, service.BatchResult{Processed: 1, Results: []service.ProcessResult{*res}})
		return
	}

	batch, err := h.svc.ProcessPendingWithdrawals(r.Context(), req.Limit, h.svc.MinWait())
	if err != nil {
		RespondServiceError(w, r, err, "process withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, batch)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
