package generation

import (
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

// Response headers describing the generated image.
const (
	HeaderCreditsRemaining = "X-Credits-Remaining"
	HeaderWatermarked      = "X-Watermarked"
	HeaderOverage          = "X-Overage"
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

// Generate handles POST /generate and responds with the image bytes.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("GenerationHandler").Start(r.Context(), "Generate", trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/generate"),
	))
	defer span.End()

	// The session may be nil here; the service owns the unauthenticated response.
	session := interceptors.SessionFromContext(ctx)

	var req types.GenerateRequest
	if session != nil {
		if err := api.DecodeJSON(r, &req); err != nil {
			api.WriteError(w, r, err)
			return
		}
	}

	img, err := h.svc.Generate(ctx, session, req)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", img.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(HeaderCreditsRemaining, strconv.Itoa(img.Credits))
	w.Header().Set(HeaderWatermarked, strconv.FormatBool(img.Watermarked))
	w.Header().Set(HeaderOverage, strconv.FormatBool(img.Overage))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		h.logger.WarnContext(ctx, "Failed to write generated image", slog.Any("error", err))
	}
}
