package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader ties a request to its log lines and its audit-chain
// entry. Chat surfaces echo it back so a user-reported failure can be
// located server-side.
const CorrelationIDHeader = "X-Correlation-ID"

// Inbound ids longer than this are replaced, not truncated, so an
// attacker-chosen value never propagates into logs whole or in part.
const maxCorrelationIDLen = 64

type correlationIDKey struct{}

// CorrelationID accepts a caller-supplied correlation id or mints one, puts
// it on the request context and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" || len(cid) > maxCorrelationIDLen {
			cid = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), correlationIDKey{}, cid)
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext returns the request's correlation id, or ""
// when the middleware did not run.
func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return s
	}
	return ""
}
