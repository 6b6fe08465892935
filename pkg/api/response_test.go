package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/types"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", types.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"email not verified", types.ErrEmailNotVerified, http.StatusForbidden, "EMAIL_NOT_VERIFIED"},
		{"no credits", types.ErrNoCredits, http.StatusForbidden, "NO_CREDITS"},
		{"user not found", fmt.Errorf("load entitlement: %w", types.ErrUserNotFound), http.StatusNotFound, "USER_NOT_FOUND"},
		{"not a floor plan", types.ErrInvalidImageType, http.StatusBadRequest, "NOT_FLOOR_PLAN"},
		{"timeout", types.ErrGenerationTimeout, http.StatusGatewayTimeout, "GENERATION_TIMEOUT"},
		{"provider failure", types.ErrGenerationFailed, http.StatusBadGateway, "GENERATION_FAILED"},
		{"subscription missing", types.ErrSubscriptionNotFound, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND"},
		{"folder missing", fmt.Errorf("folder: %w", types.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := StatusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestStatusFor_DoesNotLeakInternalErrors(t *testing.T) {
	_, body := StatusFor(errors.New("pq: connection refused to 10.0.0.3"))
	assert.Empty(t, body.Message)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)

	WriteError(rec, req, types.ErrInvalidImageType)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FLOOR_PLAN", body.Code)
	assert.NotEmpty(t, body.Message)
}

func TestWriteError_LogsServerFaultsToContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req = req.WithContext(WithLogger(req.Context(), logger))

	WriteError(httptest.NewRecorder(), req, types.ErrNotFound)
	assert.Zero(t, buf.Len())

	WriteError(httptest.NewRecorder(), req, errors.New("connection reset"))
	assert.Contains(t, buf.String(), `"msg":"request failed"`)
	assert.Contains(t, buf.String(), "connection reset")
	assert.Contains(t, buf.String(), `"status":500`)
}

func TestWriteError_WithoutLogger(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/stats", nil), errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Same(t, discardLogger, LoggerFromContext(context.Background()))
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Kitchen"}`))
		var v struct {
			Name string `json:"name"`
		}
		require.NoError(t, DecodeJSON(req, &v))
		assert.Equal(t, "Kitchen", v.Name)
	})

	t.Run("malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
		var v map[string]any
		err := DecodeJSON(req, &v)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrBadRequest)
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}{"b":2}`))
		var v map[string]any
		assert.ErrorIs(t, DecodeJSON(req, &v), types.ErrBadRequest)
	})
}
