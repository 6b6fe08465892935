package billing

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/maytees/homifyai-sub000/internal/types"
)

// Standard Webhooks headers.
const (
	HeaderWebhookID        = standardwebhooks.HeaderWebhookID
	HeaderWebhookTimestamp = standardwebhooks.HeaderWebhookTimestamp
	HeaderWebhookSignature = standardwebhooks.HeaderWebhookSignature

	secretPrefix = "whsec_"
)

// Verifier checks Standard Webhooks signatures over the raw request body.
type Verifier struct {
	hook      *standardwebhooks.Webhook
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier accepts a whsec_-prefixed base64 secret or a raw secret string.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}

	var (
		hook *standardwebhooks.Webhook
		err  error
	)
	if strings.HasPrefix(secret, secretPrefix) {
		hook, err = standardwebhooks.NewWebhook(secret)
	} else {
		hook, err = standardwebhooks.NewWebhookRaw([]byte(secret))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return &Verifier{hook: hook, tolerance: tolerance, now: time.Now}, nil
}

// Verify returns the delivery id when one of the v1 signatures matches and the timestamp
// is within tolerance.
func (v *Verifier) Verify(header http.Header, body []byte) (string, error) {
	if err := v.hook.VerifyIgnoringTimestamp(body, header); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidSignature, err)
	}

	// The library window is fixed at five minutes; ours is configurable.
	seconds, err := strconv.ParseInt(header.Get(HeaderWebhookTimestamp), 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed webhook timestamp: %w", types.ErrInvalidSignature)
	}
	sent := time.Unix(seconds, 0)
	now := v.now()
	if now.Sub(sent) > v.tolerance || sent.Sub(now) > v.tolerance {
		return "", fmt.Errorf("webhook timestamp outside tolerance: %w", types.ErrInvalidSignature)
	}
	return header.Get(HeaderWebhookID), nil
}

// sign produces a webhook-signature header value for the delivery.
func (v *Verifier) sign(id string, at time.Time, body []byte) (string, error) {
	return v.hook.Sign(id, at, body)
}
