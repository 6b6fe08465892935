package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
	"github.com/maytees/homifyai-sub000/pkg/observability"
)

const webhookBodyLimit = 1 << 20

type Handler struct {
	svc      Service
	verifier *Verifier
	logger   *slog.Logger
}

func NewHandler(svc Service, verifier *Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		verifier: verifier,
		logger:   logger,
	}
}

type webhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// HandleWebhook handles POST /webhooks/billing.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("BillingHandler").Start(r.Context(), "HandleWebhook", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/webhooks/billing"),
	))
	defer span.End()

	l := h.logger.With(slog.String("method", "HandleWebhook"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
	if err != nil {
		api.ErrorResponseWithCode(w, r, http.StatusBadRequest, "BAD_REQUEST", "Failed to read request body")
		return
	}

	eventID, err := h.verifier.Verify(r.Header, body)
	if err != nil {
		l.WarnContext(ctx, "Rejected webhook delivery", slog.Any("error", err))
		observability.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		api.WriteError(w, r, err)
		return
	}

	event, known, err := DecodeEvent(eventID, body)
	if err != nil {
		l.WarnContext(ctx, "Malformed webhook payload", slog.String("eventID", eventID), slog.Any("error", err))
		observability.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		api.WriteError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("webhook.type", string(event.Kind)))

	if !known {
		l.DebugContext(ctx, "Ignoring webhook event", slog.String("type", string(event.Kind)))
		observability.WebhookEventsTotal.WithLabelValues("other", "ignored").Inc()
		api.WriteJSONResponse(w, r, http.StatusOK, webhookAck{Received: true, Status: "ignored"})
		return
	}

	duplicate, err := h.svc.ProcessEvent(ctx, *event)
	if err != nil {
		result := "failed"
		if errors.Is(err, types.ErrSubscriptionNotFound) {
			result = "not_found"
		}
		observability.WebhookEventsTotal.WithLabelValues(string(event.Kind), result).Inc()
		api.WriteError(w, r, err)
		return
	}

	status := "processed"
	if duplicate {
		status = "duplicate"
	}
	observability.WebhookEventsTotal.WithLabelValues(string(event.Kind), status).Inc()
	api.WriteJSONResponse(w, r, http.StatusOK, webhookAck{Received: true, Status: status})
}

// GetOverage handles GET /billing/overage.
func (h *Handler) GetOverage(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("BillingHandler").Start(r.Context(), "GetOverage", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/billing/overage"),
	))
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	summary, err := h.svc.GetOverageSummary(ctx, session.UserID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, summary)
}
