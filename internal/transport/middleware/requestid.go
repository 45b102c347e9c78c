package middleware

import (
	"context"
	"net/http"

	"github.com/frahmantamala/viso/pkg/logger"

	"github.com/google/uuid"
)

type traceKey struct{}

func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}

		// inject into context
		ctx := context.WithValue(r.Context(), traceKey{}, traceID)
		ctx = logger.With(ctx, "trace_id", traceID)

		// propagate back to response
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
