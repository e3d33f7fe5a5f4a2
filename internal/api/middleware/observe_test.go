package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "trace_header", headers: map[string]string{"X-Trace-ID": "abc-123"}, want: "abc-123"},
		{name: "request_id_fallback", headers: map[string]string{"X-Request-ID": "req-9"}, want: "req-9"},
		{name: "trace_wins", headers: map[string]string{"X-Trace-ID": "t-1", "X-Request-ID": "r-1"}, want: "t-1"},
		{name: "generated", headers: nil},
		{name: "too_long", headers: map[string]string{"X-Trace-ID": strings.Repeat("a", maxTraceIDLen+1)}},
		{name: "control_chars", headers: map[string]string{"X-Trace-ID": "bad\tid"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = TraceIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, seen, w.Header().Get("X-Trace-ID"))
			if tc.want != "" {
				assert.Equal(t, tc.want, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err, "expected a generated trace id, got %q", seen)
		})
	}
}

// newStack mirrors the router's middleware order.
func newStack(logger *zap.Logger, routes func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceMiddleware)
	r.Use(RecoverMiddleware(logger))
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware)
	routes(r)
	return r
}

func withPrincipal(userID uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m := metaFromContext(r.Context()); m != nil {
				m.userID = userID.String()
			}
			ctx := context.WithValue(r.Context(), principalContextKey, Principal{UserID: userID, Role: RoleUser})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TestLoggingMiddlewareLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	userID := uuid.New()
	h := newStack(zap.New(core), func(r chi.Router) {
		r.With(withPrincipal(userID)).Get("/v1/withdrawals/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("missing"))
		})
		r.Get("/v1/boom", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})
	})

	for _, path := range []string{"/v1/withdrawals/" + uuid.NewString(), "/v1/boom", "/health/live"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 3)

	notFound := entries[0]
	assert.Equal(t, zapcore.WarnLevel, notFound.Level)
	fields := notFound.ContextMap()
	assert.Equal(t, "/v1/withdrawals/{id}", fields["route"])
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.EqualValues(t, 7, fields["bytes"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.NotEmpty(t, fields["trace_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	_, hasUser := entries[1].ContextMap()["user_id"]
	assert.False(t, hasUser)

	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
	assert.EqualValues(t, http.StatusOK, entries[2].ContextMap()["status"])
}

func TestRecoverMiddlewareLogsStackAndCaller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	userID := uuid.New()
	h := newStack(zap.New(core), func(r chi.Router) {
		r.With(withPrincipal(userID)).Post("/v1/withdrawals", func(w http.ResponseWriter, r *http.Request) {
			panic("signer exploded")
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", nil)
	req.Header.Set("X-Trace-ID", "trace-panic")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trace-panic", body["request_id"])

	panics := logs.FilterMessage("panic recovered").All()
	require.Len(t, panics, 1)
	fields := panics[0].ContextMap()
	assert.Equal(t, "signer exploded", fields["panic"])
	assert.Equal(t, "/v1/withdrawals", fields["route"])
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.Equal(t, "trace-panic", fields["trace_id"])
	assert.Contains(t, fields["stack"], "TestRecoverMiddlewareLogsStackAndCaller")
}

func TestRoutePatternLabels(t *testing.T) {
	r := chi.NewRouter()
	var matched string
	r.Get("/v1/withdrawals/{id}", func(w http.ResponseWriter, r *http.Request) {
		matched = routePattern(r)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/withdrawals/"+uuid.NewString(), nil))
	assert.Equal(t, "/v1/withdrawals/{id}", matched)

	assert.Equal(t, unmatchedRoute, routePattern(httptest.NewRequest(http.MethodGet, "/wp-login.php", nil)))

	assert.True(t, operationalPath("/metrics"))
	assert.True(t, operationalPath("/health/ready"))
	assert.False(t, operationalPath("/v1/balance"))
}
