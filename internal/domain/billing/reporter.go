package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/maytees/homifyai-sub000/internal/types"
)

// UsageReporter forwards billable overage usage to the billing provider.
type UsageReporter interface {
	ReportOverage(ctx context.Context, charge types.OverageCharge) error
}

type ingestEvent struct {
	Name               string         `json:"name"`
	ExternalCustomerID string         `json:"external_customer_id"`
	Metadata           map[string]any `json:"metadata"`
}

type ingestRequest struct {
	Events []ingestEvent `json:"events"`
}

var _ UsageReporter = (*HTTPUsageReporter)(nil)

// HTTPUsageReporter posts usage events to the provider's event ingestion endpoint.
type HTTPUsageReporter struct {
	client      *http.Client
	url         string
	accessToken string
	eventName   string
	backoff     func() retry.Backoff
	logger      *slog.Logger
}

func NewHTTPUsageReporter(url, accessToken, eventName string, logger *slog.Logger) *HTTPUsageReporter {
	return &HTTPUsageReporter{
		client:      &http.Client{Timeout: 10 * time.Second},
		url:         url,
		accessToken: accessToken,
		eventName:   eventName,
		backoff:     defaultReportBackoff,
		logger:      logger,
	}
}

func defaultReportBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.WithJitterPercent(20, retry.NewExponential(250*time.Millisecond)))
}

func (h *HTTPUsageReporter) ReportOverage(ctx context.Context, charge types.OverageCharge) error {
	body, err := json.Marshal(ingestRequest{Events: []ingestEvent{{
		Name:               h.eventName,
		ExternalCustomerID: charge.UserID.String(),
		Metadata: map[string]any{
			"quantity":        charge.Quantity,
			"unit_price":      charge.UnitPrice.StringFixed(2),
			"amount":          charge.Amount.StringFixed(2),
			"subscription_id": charge.ExternalSubscriptionID,
			"charge_id":       charge.ID.String(),
		},
	}}})
	if err != nil {
		return fmt.Errorf("failed to encode usage event: %w", err)
	}

	attempt := 0
	return retry.Do(ctx, h.backoff(), func(ctx context.Context) error {
		attempt++
		err := h.post(ctx, body)
		if err != nil && isRetryable(err) {
			h.logger.WarnContext(ctx, "Usage ingestion attempt failed",
				slog.Int("attempt", attempt),
				slog.String("chargeID", charge.ID.String()),
				slog.Any("error", err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// statusError carries the ingestion endpoint's non-2xx reply.
type statusError struct {
	code    int
	snippet []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("usage ingestion returned %d: %s", e.code, e.snippet)
}

// A 4xx reply other than 429 is final; everything else is retried.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func (h *HTTPUsageReporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.accessToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("usage ingestion request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, snippet: snippet}
	}
	return nil
}

var _ UsageReporter = (*LogUsageReporter)(nil)

// LogUsageReporter is used when no ingestion endpoint is configured.
type LogUsageReporter struct {
	logger *slog.Logger
}

func NewLogUsageReporter(logger *slog.Logger) *LogUsageReporter {
	return &LogUsageReporter{logger: logger}
}

func (l *LogUsageReporter) ReportOverage(ctx context.Context, charge types.OverageCharge) error {
	l.logger.InfoContext(ctx, "Overage usage (no ingestion endpoint configured)",
		slog.String("userID", charge.UserID.String()),
		slog.Int("quantity", charge.Quantity),
		slog.String("amount", charge.Amount.StringFixed(2)))
	return nil
}
