package user

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

type HandlerImpl struct {
	svc    UserService
	logger *slog.Logger
}

func NewUserHandler(svc UserService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		svc:    svc,
		logger: logger,
	}
}

func startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	return otel.Tracer("UserHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String("/me"),
	))
}

// GetMe handles GET /me.
func (h *HandlerImpl) GetMe(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "GetMe")
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	account, err := h.svc.GetAccount(ctx, session.UserID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, account)
}

// UpdateMe handles PATCH /me.
func (h *HandlerImpl) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "UpdateMe")
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	var params types.UpdateAccountParams
	if err := api.DecodeJSON(r, &params); err != nil {
		api.WriteError(w, r, err)
		return
	}

	user, err := h.svc.UpdateProfile(ctx, session.UserID, params)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

// DeleteMe handles DELETE /me.
func (h *HandlerImpl) DeleteMe(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "DeleteMe")
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	if err := h.svc.DeleteAccount(ctx, session.UserID); err != nil {
		h.logger.ErrorContext(ctx, "Failed to delete account", slog.Any("error", err))
		api.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
