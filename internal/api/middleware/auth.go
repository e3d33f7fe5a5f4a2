package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Ledger roles. Tokens without a role act as RoleUser.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller. Users act on their own balance;
// admins approve deposits, settle withdrawals and adjust balances.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

var verifier struct {
	secret   []byte
	issuer   string
	audience string
}

type ledgerClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	verifier.secret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	verifier.issuer = strings.TrimSpace(issuer)
	verifier.audience = strings.TrimSpace(audience)
}

func JWTSecret() []byte {
	clone := make([]byte, len(verifier.secret))
	copy(clone, verifier.secret)
	return clone
}

func JWTIssuer() string {
	return verifier.issuer
}

func JWTAudience() string {
	return verifier.audience
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/"+slug), http.StatusText(http.StatusUnauthorized), detail)
}

// AuthMiddleware validates the bearer token and stores the caller's
// Principal in the request context. The user_id claim must be a ledger user
// UUID and the role must be one the ledger knows.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, r, "authorization-header-required", "Authorization header required")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, r, "invalid-token-format", "Invalid token format")
			return
		}
		if len(verifier.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		principal, slug, err := parsePrincipal(tokenString)
		if err != nil {
			unauthorized(w, r, slug, "Invalid token")
			return
		}
		if m := metaFromContext(r.Context()); m != nil {
			m.userID = principal.UserID.String()
		}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parsePrincipal returns the problem slug to report alongside any error.
func parsePrincipal(tokenString string) (Principal, string, error) {
	claims := &ledgerClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if verifier.issuer != "" {
		opts = append(opts, jwt.WithIssuer(verifier.issuer))
	}
	if verifier.audience != "" {
		opts = append(opts, jwt.WithAudience(verifier.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return verifier.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, "invalid-token", fmt.Errorf("parse token: %w", err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Principal{}, "invalid-token-claims", fmt.Errorf("user_id: %w", err)
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return Principal{}, "invalid-token-claims", fmt.Errorf("subject %q does not match user_id", claims.Subject)
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case "":
		role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return Principal{}, "unknown-role", fmt.Errorf("unknown role %q", claims.Role)
	}
	return Principal{UserID: userID, Role: role}, "", nil
}

// RequireRole ensures the authenticated user has the required role.
func RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserRoleFromContext(r.Context()) != requiredRole {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards the operator routes.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// UserIDFromContext returns the authenticated user ID, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func UserRoleFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.Role
	}
	return ""
}
