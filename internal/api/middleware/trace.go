package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	traceHeader   = "X-Trace-ID"
	requestHeader = "X-Request-ID"
	maxTraceIDLen = 128
)

const requestMetaContextKey contextKey = "request_meta"

// requestMeta is shared by every layer of one request. Auth fills in the
// caller after the outer middlewares have already captured the context.
type requestMeta struct {
	traceID string
	userID  string
}

// TraceMiddleware gives every request a trace id, echoed in X-Trace-ID and
// written to logs and problem bodies. A caller-supplied X-Trace-ID or
// X-Request-ID is kept when it is short printable ASCII.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = r.Header.Get(requestHeader)
		}
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		ctx := context.WithValue(r.Context(), requestMetaContextKey, &requestMeta{traceID: traceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}
	return true
}

func metaFromContext(ctx context.Context) *requestMeta {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(requestMetaContextKey).(*requestMeta)
	return m
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.traceID
	}
	return ""
}

// requestUserID is the authenticated caller as seen from middlewares that
// wrap AuthMiddleware.
func requestUserID(ctx context.Context) string {
	if id := UserIDFromContext(ctx); id != "" {
		return id
	}
	if m := metaFromContext(ctx); m != nil {
		return m.userID
	}
	return ""
}
