package entitlement

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

// GetCredits handles GET /credits.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("EntitlementHandler").Start(r.Context(), "GetCredits", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/credits"),
	))
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	summary, err := h.svc.GetCreditsSummary(ctx, session.UserID)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to get credits", slog.Any("error", err))
		api.WriteError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, summary)
}
