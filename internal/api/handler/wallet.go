package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/keyvault"
	"github.com/google/uuid"
)

// WalletEnsurer creates or returns a user's custodial wallet.
type WalletEnsurer interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID, passphrase string) (*keyvault.EnsureResult, error)
}

type WalletHandler struct {
	vault WalletEnsurer
}

func NewWalletHandler(vault WalletEnsurer) *WalletHandler {
	return &WalletHandler{vault: vault}
}

type EnsureWalletRequest struct {
	Passphrase string `json:"passphrase"`
}

// EnsureWallet handles POST /v1/custodial-wallet
// The mnemonic is only present in the response that created the wallet.
func (h *WalletHandler) EnsureWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req EnsureWalletRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if h.vault == nil {
		RespondError(w, r, http.StatusServiceUnavailable, "wallet/unavailable", "custodial wallets are not configured")
		return
	}

	res, err := h.vault.EnsureWallet(r.Context(), userID, req.Passphrase)
	if err != nil {
		RespondServiceError(w, r, err, "ensure wallet")
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		w.Header().Set("Cache-Control", "no-store")
	}
	RespondJSON(w, status, res)
}
