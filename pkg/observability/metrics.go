package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacemint_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spacemint_http_request_duration_seconds",
		Help:    "HTTP request latency by route and method.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"route", "method"})

	// GenerationsTotal counts generation attempts by outcome (success, denied, not_floor_plan, timeout, failed, race_lost).
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacemint_generations_total",
		Help: "Generation requests by outcome.",
	}, []string{"outcome"})

	// CreditsDebitedTotal counts committed debits split by normal and overage consumption.
	CreditsDebitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacemint_credits_debited_total",
		Help: "Credits debited, split by kind.",
	}, []string{"kind"})

	// WebhookEventsTotal counts billing webhook deliveries by event type and result.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacemint_billing_webhook_events_total",
		Help: "Billing webhook deliveries by event type and result.",
	}, []string{"type", "result"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// NewMetricsInterceptor records request counts and latency keyed by the matched chi route.
func NewMetricsInterceptor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
			httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
