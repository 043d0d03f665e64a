package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/logger"
)

// Timeout puts a deadline on the request context. Handlers are expected to
// honour it; one that returns past the deadline without writing anything gets
// a 504.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			rec := wrap(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.code != 0 || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			logger.FromContext(ctx).Warn("request deadline exceeded",
				"method", r.Method, "path", r.URL.Path, "limit", limit)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"error":"request timeout"}` + "\n"))
		})
	}
}
