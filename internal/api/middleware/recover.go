package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nivapay/settlement/internal/api/problem"
)

// RecoverMiddleware turns a handler panic into a 500 problem response
// instead of tearing down the connection.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("trace_id", TraceIDFromContext(r.Context())))
				problem.Write(w, r, http.StatusInternalServerError,
					problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError),
					"unexpected server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
