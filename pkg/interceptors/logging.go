package interceptors

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/maytees/homifyai-sub000/pkg/api"
)

// statusRecorder captures the status code and body size written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// NewLoggingInterceptor logs every request with its duration and payload sizes
func NewLoggingInterceptor(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			logger.DebugContext(ctx, "HTTP request started", appendLoggerFields(ctx,
				"method", r.Method,
				"path", r.URL.Path,
				"peer", r.RemoteAddr,
				"request_size_bytes", r.ContentLength,
			)...)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(api.WithLogger(ctx, logger.With(appendLoggerFields(ctx)...))))

			duration := time.Since(start)
			fields := appendLoggerFields(ctx,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", duration.String(),
				"duration_ms", duration.Milliseconds(),
				"request_size_bytes", r.ContentLength,
				"response_size_bytes", rec.bytes,
			)

			switch {
			case rec.status >= http.StatusInternalServerError:
				logger.ErrorContext(ctx, "HTTP request failed", fields...)
			case rec.status >= http.StatusBadRequest:
				logger.WarnContext(ctx, "HTTP request rejected", fields...)
			default:
				logger.InfoContext(ctx, "HTTP request completed", fields...)
			}
		})
	}
}

func appendLoggerFields(ctx context.Context, base ...any) []any {
	if requestID, ok := RequestIDFromContext(ctx); ok && requestID != "" {
		base = append(base, "request_id", requestID)
	}
	if userID, ok := GetUserIDFromContext(ctx); ok {
		base = append(base, "user_id", userID)
	}
	return base
}
