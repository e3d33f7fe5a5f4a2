package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/api/middleware"
	"github.com/ayo6706/custodial-ledger/internal/api/problem"
	"github.com/ayo6706/custodial-ledger/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problemSlug(problemType), http.StatusText(status), message)
}

func problemSlug(problemType string) string {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		return problem.Type(problemType)
	}
	return problemType
}

// RespondServiceError maps a service error onto a problem response using its
// domain class. Unknown errors are logged and reported as 500.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	if status, pType, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, pType, msg)
		return
	}

	var policyErr *domain.PolicyError
	if errors.As(err, &policyErr) {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, domain.ErrVelocityLimit) {
			status = http.StatusTooManyRequests
		}
		problem.WriteLimit(w, r, status, problem.Type("policy/"+slugOf(policyErr.Err)), http.StatusText(status), policyErr.Err.Error(), &problem.Limit{
			Limit:     policyErr.Limit.String(),
			Used:      policyErr.Used.String(),
			Requested: policyErr.Requested.String(),
			Remaining: policyErr.Remaining.String(),
		})
		return
	}

	switch domain.ClassOf(err) {
	case domain.ClassValidation:
		RespondError(w, r, http.StatusBadRequest, "validation/"+slugOf(err), err.Error())
	case domain.ClassNotFound:
		RespondError(w, r, http.StatusNotFound, "not-found/"+slugOf(err), err.Error())
	case domain.ClassConflict:
		RespondError(w, r, http.StatusConflict, "conflict/"+slugOf(err), err.Error())
	case domain.ClassPolicy:
		RespondError(w, r, http.StatusUnprocessableEntity, "policy/"+slugOf(err), err.Error())
	case domain.ClassChain:
		RespondError(w, r, http.StatusUnprocessableEntity, "chain/"+slugOf(err), err.Error())
	default:
		if errors.Is(err, domain.ErrRPCNotConfigured) {
			RespondError(w, r, http.StatusServiceUnavailable, "chain/rpc-unavailable", "blockchain RPC is not configured")
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		RespondError(w, r, http.StatusInternalServerError, "internal/"+strings.ReplaceAll(op, " ", "-"), "internal error")
	}
}

var slugs = map[error]string{
	domain.ErrInvalidAddress:            "invalid-address",
	domain.ErrInvalidAmount:             "invalid-amount",
	domain.ErrInvalidTxHash:             "invalid-tx-hash",
	domain.ErrInvalidMode:               "invalid-mode",
	domain.ErrMissingReason:             "missing-reason",
	domain.ErrInvalidType:               "invalid-type",
	domain.ErrClaimLost:                 "claim-lost",
	domain.ErrInvalidStateTransition:    "invalid-state-transition",
	domain.ErrDuplicateTxHash:           "duplicate-tx-hash",
	domain.ErrAddressMismatch:           "address-mismatch",
	domain.ErrWalletExists:              "wallet-exists",
	domain.ErrPlatformAddressUsed:       "platform-address-used",
	domain.ErrTxNotFound:                "tx-not-found",
	domain.ErrNotMinedYet:               "not-mined-yet",
	domain.ErrChainExecutionFailed:      "execution-failed",
	domain.ErrInsufficientConfirmations: "insufficient-confirmations",
	domain.ErrSenderMismatch:            "sender-mismatch",
	domain.ErrRecipientMismatch:         "recipient-mismatch",
	domain.ErrConfirmationTimeout:       "confirmation-timeout",
	domain.ErrInsufficientBalance:       "insufficient-balance",
	domain.ErrBelowMinimum:              "below-minimum",
	domain.ErrUserDailyLimit:            "user-daily-limit",
	domain.ErrPlatformDailyLimit:        "platform-daily-limit",
	domain.ErrVelocityLimit:             "velocity-limit",
	domain.ErrUserNotFound:              "user",
	domain.ErrEntryNotFound:             "ledger-entry",
	domain.ErrWithdrawalNotFound:        "withdrawal",
}

func slugOf(err error) string {
	if slug, ok := slugs[domain.Sentinel(err)]; ok {
		return slug
	}
	return "error"
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || p.UserID == uuid.Nil {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}
	return p.UserID, p.IsAdmin(), nil
}

// actorOrUnauthorized resolves the caller and writes a 401 when it cannot.
func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false
	}
	return actorID, true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

// pageParams reads limit and offset query parameters. Bounds are applied by
// the services.
func pageParams(r *http.Request) (int32, int32) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return int32(min(max(limit, 0), 1<<20)), int32(min(max(offset, 0), 1<<30))
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
