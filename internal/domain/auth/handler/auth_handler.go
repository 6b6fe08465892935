package handler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/domain/auth/presenter"
	"github.com/maytees/homifyai-sub000/internal/domain/auth/service"
	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

// Service is the part of the auth service the HTTP layer calls.
type Service interface {
	RegisterUser(ctx context.Context, params service.RegisterParams) (*service.AuthResult, error)
	Login(ctx context.Context, params service.LoginParams) (*service.AuthResult, error)
	RefreshTokens(ctx context.Context, params service.RefreshTokenParams) (*service.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ResendVerificationEmail(ctx context.Context, email string) (*service.ResendResult, error)
	VerifyEmail(ctx context.Context, email, code string) (uuid.UUID, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	LoginWithOAuth(ctx context.Context, params service.OAuthParams) (*service.AuthResult, error)
}

var _ Service = (*service.AuthService)(nil)

type AuthHandler struct {
	svc Service
}

func NewAuthHandler(svc Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func startSpan(r *http.Request, name, route string) (context.Context, trace.Span) {
	return otel.Tracer("AuthHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(route),
	))
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: missing %s", types.ErrBadRequest, strings.Join(missing, ", "))
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, _ := strings.Cut(fwd, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "Register", "/auth/register")
	defer span.End()

	var req registerRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"email": req.Email, "password": req.Password}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	result, err := h.svc.RegisterUser(ctx, service.RegisterParams{
		Email:     req.Email,
		Password:  req.Password,
		Name:      req.Name,
		UserAgent: r.UserAgent(),
		ClientIP:  clientIP(r),
	})
	if err != nil {
		span.RecordError(err)
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, presenter.RegisterResponse(result))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "Login", "/auth/login")
	defer span.End()

	var req loginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"email": req.Email, "password": req.Password}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	result, err := h.svc.Login(ctx, service.LoginParams{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		ClientIP:  clientIP(r),
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.LoginResponse(result))
}

// RefreshToken handles POST /auth/refresh.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "RefreshToken", "/auth/refresh")
	defer span.End()

	var req refreshRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"refreshToken": req.RefreshToken}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	pair, err := h.svc.RefreshTokens(ctx, service.RefreshTokenParams{
		RefreshToken: req.RefreshToken,
		UserAgent:    r.UserAgent(),
		ClientIP:     clientIP(r),
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.RefreshTokenResponse(pair))
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "Logout", "/auth/logout")
	defer span.End()

	var req refreshRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := h.svc.Logout(ctx, req.RefreshToken); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.Message("Logged out"))
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "VerifyEmail", "/auth/verify-email")
	defer span.End()

	var req verifyEmailRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"email": req.Email, "code": req.Code}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	userID, err := h.svc.VerifyEmail(ctx, req.Email, req.Code)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, &presenter.VerifyEmailResponse{Success: true, UserID: userID.String()})
}

// ResendVerification handles POST /auth/resend-verification.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "ResendVerification", "/auth/resend-verification")
	defer span.End()

	var req emailRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"email": req.Email}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	result, err := h.svc.ResendVerificationEmail(ctx, req.Email)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.ResendResponse(result))
}

// ForgotPassword handles POST /auth/forgot-password.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "ForgotPassword", "/auth/forgot-password")
	defer span.End()

	var req emailRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"email": req.Email}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	if err := h.svc.RequestPasswordReset(ctx, req.Email); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.Message("If the account exists, a reset link has been sent"))
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "ResetPassword", "/auth/reset-password")
	defer span.End()

	var req resetPasswordRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"token": req.Token, "newPassword": req.NewPassword}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	if err := h.svc.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.Message("Password updated"))
}

// ChangePassword handles POST /auth/change-password. Requires a session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "ChangePassword", "/auth/change-password")
	defer span.End()

	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		api.WriteError(w, r, types.ErrUnauthenticated)
		return
	}

	var req changePasswordRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := required(map[string]string{"currentPassword": req.CurrentPassword, "newPassword": req.NewPassword}); err != nil {
		api.WriteError(w, r, err)
		return
	}

	if err := h.svc.ChangePassword(ctx, session.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, presenter.Message("Password changed"))
}
