package handler

import (
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/service"
)

type BalanceHandler struct {
	svc *service.LedgerService
}

func NewBalanceHandler(svc *service.LedgerService) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

// GetBalance handles GET /v1/balance
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, r, err, "get balance")
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// GetOnchainBalance handles GET /v1/balance/onchain
func (h *BalanceHandler) GetOnchainBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.GetOnchainBalance(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, r, err, "get onchain balance")
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

// ListTransactions handles GET /v1/transactions?type=&limit=&offset=
func (h *BalanceHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.svc.ListEntries(r.Context(), userID, r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		RespondServiceError(w, r, err, "list transactions")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"limit":        limit,
		"offset":       offset,
	})
}
