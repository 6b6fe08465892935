package interceptors

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/maytees/homifyai-sub000/pkg/api"
)

// NewRateLimitInterceptor rejects requests once the shared limiter is exhausted.
func NewRateLimitInterceptor(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				api.ErrorResponseWithCode(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
