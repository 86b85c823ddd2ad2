package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader threads a single logical request across gateway and
// backend for tracing.
const CorrelationHeader = "X-Correlation-ID"

// contextKey avoids collisions with other packages' context values.
type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationMiddleware accepts an inbound correlation ID or mints a new
// one, stores it on the request context, and echoes it on the response
// header regardless of outcome.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		w.Header().Set(CorrelationHeader, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID from context.
// Returns an empty string if none is set.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
