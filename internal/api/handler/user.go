package handler

import (
	"net/http"

	"github.com/ayo6706/custodial-ledger/internal/repository"
)

type UserHandler struct {
	repo *repository.Repository
}

func NewUserHandler(repo *repository.Repository) *UserHandler {
	return &UserHandler{repo: repo}
}

// CreateUser handles POST /v1/users
// Registering a wallet that is already known returns the existing user.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, created, err := h.repo.EnsureUser(r.Context(), req.WalletAddress)
	if err != nil {
		RespondServiceError(w, r, err, "create user")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	RespondJSON(w, status, user)
}

// Me handles GET /v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		RespondServiceError(w, r, err, "get user")
		return
	}
	RespondJSON(w, http.StatusOK, user)
}
