package statistics

import (
	"net/http"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("StatisticsHandler").Start(r.Context(), "GetStats", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/stats"),
	))
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	stats, err := h.svc.GetLibraryStatistics(ctx, session.UserID)
	if err != nil {
		span.RecordError(err)
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, stats)
}
