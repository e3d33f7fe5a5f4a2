package handler

import (
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// DepositHandler serves the deposit address, deposit submission and the
// operator approval queue.
type DepositHandler struct {
	svc *service.DepositService
}

func NewDepositHandler(svc *service.DepositService) *DepositHandler {
	return &DepositHandler{svc: svc}
}

type SubmitDepositRequest struct {
	TxHash string `json:"tx_hash"`
}

type DepositResponse struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TxHash        string          `json:"tx_hash"`
	Existing      bool            `json:"existing,omitempty"`
}

type ApproveDepositResponse struct {
	TransactionID    string          `json:"transaction_id"`
	Status           string          `json:"status"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	AlreadyProcessed bool            `json:"already_processed,omitempty"`
}

type RejectDepositRequest struct {
	Reason string `json:"reason"`
}

// GetDepositAddress handles GET /v1/deposit-address
func (h *DepositHandler) GetDepositAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.svc.GetDepositAddress(r.Context())
	if err != nil {
		RespondServiceError(w, r, err, "get deposit address")
		return
	}
	RespondJSON(w, http.StatusOK, addr)
}

// SubmitDeposit handles POST /v1/deposits
// A new hash returns 201; resubmitting a known hash returns 200 with the
// existing entry.
func (h *DepositHandler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req SubmitDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.SubmitDeposit(r.Context(), userID, req.TxHash)
	if err != nil {
		RespondServiceError(w, r, err, "submit deposit")
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	resp := DepositResponse{
		TransactionID: res.Entry.ID.String(),
		Status:        res.Entry.Status,
		Amount:        res.Entry.Amount,
		Existing:      res.Existing,
	}
	if res.Entry.TxHash != nil {
		resp.TxHash = *res.Entry.TxHash
	}
	RespondJSON(w, status, resp)
}

// ListPendingDeposits handles GET /v1/admin/deposits
func (h *DepositHandler) ListPendingDeposits(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	entries, err := h.svc.ListPendingDeposits(r.Context(), limit, offset)
	if err != nil {
		RespondServiceError(w, r, err, "list pending deposits")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"deposits": entries})
}

// ApproveDeposit handles POST /v1/admin/deposits/{id}/approve
func (h *DepositHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	entryID, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	res, err := h.svc.ApproveDeposit(r.Context(), entryID, actorID)
	if err != nil {
		RespondServiceError(w, r, err, "approve deposit")
		return
	}
	RespondJSON(w, http.StatusOK, ApproveDepositResponse{
		TransactionID:    res.Entry.ID.String(),
		Status:           res.Entry.Status,
		BalanceAfter:     res.Entry.BalanceAfter,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

// RejectDeposit handles POST /v1/admin/deposits/{id}/reject
func (h *DepositHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	entryID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req RejectDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := h.svc.RejectDeposit(r.Context(), entryID, actorID, req.Reason)
	if err != nil {
		RespondServiceError(w, r, err, "reject deposit")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}
