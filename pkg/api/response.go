package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/maytees/homifyai-sub000/internal/types"
)

// MaxJSONBodyBytes caps request bodies decoded by DecodeJSON.
const MaxJSONBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	title   string
	message string
}

// Order matters: the first match wins, so specific sentinels come before the generic ones.
var errorMappings = []errorMapping{
	{types.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", ""},
	{types.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature", ""},
	{types.ErrEmailNotVerified, http.StatusForbidden, types.DenyEmailNotVerified, "Email not verified",
		"Please verify your email address. You can request a new verification code from your account."},
	{types.ErrNoCredits, http.StatusForbidden, types.DenyNoCredits, "No credits available",
		"You have used all of your credits. Upgrade to Pro for 20 generations per month."},
	{types.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Forbidden", ""},
	{types.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "User not found", ""},
	{types.ErrSubscriptionNotFound, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "Subscription not found", ""},
	{types.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not found", ""},
	{types.ErrInvalidImageType, http.StatusBadRequest, "NOT_FLOOR_PLAN", "Invalid image type",
		"The uploaded image does not appear to be a floor plan. Please upload a floor plan image."},
	{types.ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST", "Bad request", ""},
	{types.ErrConflict, http.StatusConflict, "CONFLICT", "Conflict", ""},
	{types.ErrGenerationTimeout, http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "Generation timed out",
		"The image model took too long to respond. No credit was used, please try again."},
	{types.ErrGenerationFailed, http.StatusBadGateway, "GENERATION_FAILED", "Generation failed",
		"Something went wrong while generating your image. No credit was used, please try again."},
	{types.ErrPersistenceFailed, http.StatusInternalServerError, "PERSISTENCE_FAILED", "Failed to save floor plan",
		"Your image was generated but could not be saved to your library."},
}

type loggerKey struct{}

var discardLogger = slog.New(slog.DiscardHandler)

// WithLogger attaches the logger that WriteError and WriteJSONResponse report server faults to.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the attached logger, or one that discards everything.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return discardLogger
}

// StatusFor resolves an error to its HTTP status and error body.
func StatusFor(err error) (int, ErrorBody) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			body := ErrorBody{Error: m.title, Message: m.message, Code: m.code}
			if body.Message == "" && m.status < http.StatusInternalServerError {
				body.Message = err.Error()
			}
			return m.status, body
		}
	}
	return http.StatusInternalServerError, ErrorBody{Error: "Internal server error", Code: "INTERNAL"}
}

// WriteError maps a domain error onto its status code and writes the JSON error body.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := StatusFor(err)
	if status >= http.StatusInternalServerError {
		LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	WriteJSONResponse(w, r, status, body)
}

// ErrorResponse writes a plain error body with the given status.
func ErrorResponse(w http.ResponseWriter, r *http.Request, status int, message string) {
	WriteJSONResponse(w, r, status, ErrorBody{Error: message})
}

// ErrorResponseWithCode writes an error body carrying a machine-readable code.
func ErrorResponseWithCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSONResponse(w, r, status, ErrorBody{Error: message, Code: code})
}

// WriteJSONResponse encodes v as the response body.
func WriteJSONResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", slog.Any("error", err))
	}
}

// DecodeJSON decodes a bounded JSON request body into v, rejecting unknown trailing data.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", types.ErrBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must contain a single JSON object", types.ErrBadRequest)
	}
	return nil
}
