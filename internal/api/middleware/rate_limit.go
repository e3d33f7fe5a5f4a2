package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/custodial-ledger/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes such as
// user registration and deposit-address lookups.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limited(time.Second, fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))),
	)
}

// AuthRateLimiter limits authenticated users using their user ID as the key.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(userKey("user")),
		httprate.WithLimitHandler(limited(time.Second, fmt.Sprintf("Rate limit of %d req/s exceeded for this user", rps))),
	)
}

// WithdrawalRateLimiter caps withdrawal submissions per user per minute. It
// sits in front of idempotency, so replays of one key count against the
// budget too.
func WithdrawalRateLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(userKey("withdrawal")),
		httprate.WithLimitHandler(limited(time.Minute, fmt.Sprintf("At most %d withdrawal requests per minute", perMinute))),
	)
}

func userKey(scope string) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return scope + ":" + userID, nil
		}
		ip, err := httprate.KeyByIP(r)
		if err != nil {
			return "", err
		}
		return scope + ":ip:" + ip, nil
	}
}

func limited(window time.Duration, detail string) http.HandlerFunc {
	retryAfter := fmt.Sprintf("%d", int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		problem.Write(
			w,
			r,
			http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			detail,
		)
	}
}
