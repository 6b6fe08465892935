package interceptors

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/maytees/homifyai-sub000/pkg/api"
)

// NewRecoveryInterceptor turns handler panics into 500 responses.
func NewRecoveryInterceptor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "panic recovered", appendLoggerFields(r.Context(),
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)...)
					api.ErrorResponseWithCode(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
