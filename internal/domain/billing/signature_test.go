package billing

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/types"
)

const testSecret = "whsec_" + "c2VjcmV0LWtleS1mb3ItdGVzdHM=" // "secret-key-for-tests"

func signedHeaders(t *testing.T, v *Verifier, id string, at time.Time, body []byte) http.Header {
	t.Helper()
	sig, err := v.sign(id, at, body)
	require.NoError(t, err)
	h := http.Header{}
	h.Set(HeaderWebhookID, id)
	h.Set(HeaderWebhookTimestamp, strconv.FormatInt(at.Unix(), 10))
	h.Set(HeaderWebhookSignature, sig)
	return h
}

func fixedVerifier(t *testing.T, secret string, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, 5*time.Minute)
	require.NoError(t, err)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := fixedVerifier(t, testSecret, now)
	body := []byte(`{"type":"subscription.created","data":{}}`)

	id, err := v.Verify(signedHeaders(t, v, "msg_1", now, body), body)
	require.NoError(t, err)
	assert.Equal(t, "msg_1", id)
}

func TestVerifier_DecodesPrefixedSecret(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{}`)

	// Deliveries signed with the decoded key must verify against the prefixed secret.
	decoded, err := standardwebhooks.NewWebhookRaw([]byte("secret-key-for-tests"))
	require.NoError(t, err)
	sig, err := decoded.Sign("msg_3", now, body)
	require.NoError(t, err)

	v := fixedVerifier(t, testSecret, now)
	h := signedHeaders(t, v, "msg_3", now, body)
	h.Set(HeaderWebhookSignature, sig)
	_, err = v.Verify(h, body)
	require.NoError(t, err)

	raw := fixedVerifier(t, "plain-secret", now)
	plain, err := standardwebhooks.NewWebhookRaw([]byte("plain-secret"))
	require.NoError(t, err)
	sig, err = plain.Sign("msg_4", now, body)
	require.NoError(t, err)
	h.Set(HeaderWebhookID, "msg_4")
	h.Set(HeaderWebhookSignature, sig)
	id, err := raw.Verify(h, body)
	require.NoError(t, err)
	assert.Equal(t, "msg_4", id)

	_, err = NewVerifier("whsec_***", time.Minute)
	require.Error(t, err)
}

func TestVerifier_AcceptsAnyOfSeveralSignatures(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	v := fixedVerifier(t, testSecret, now)
	body := []byte(`{}`)
	h := signedHeaders(t, v, "msg_2", now, body)
	h.Set(HeaderWebhookSignature, "v1,Zm9v v2,abc "+h.Get(HeaderWebhookSignature))

	_, err := v.Verify(h, body)
	require.NoError(t, err)
}

func TestVerifier_Rejects(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{"type":"subscription.revoked"}`)

	tests := []struct {
		name   string
		mutate func(v *Verifier, h http.Header) ([]byte, http.Header)
	}{
		{
			name: "tampered body",
			mutate: func(_ *Verifier, h http.Header) ([]byte, http.Header) {
				return []byte(`{"type":"subscription.created"}`), h
			},
		},
		{
			name: "stale timestamp",
			mutate: func(v *Verifier, _ http.Header) ([]byte, http.Header) {
				return body, signedHeaders(t, v, "msg", now.Add(-6*time.Minute), body)
			},
		},
		{
			name: "future timestamp",
			mutate: func(v *Verifier, _ http.Header) ([]byte, http.Header) {
				return body, signedHeaders(t, v, "msg", now.Add(6*time.Minute), body)
			},
		},
		{
			name: "missing signature header",
			mutate: func(_ *Verifier, h http.Header) ([]byte, http.Header) {
				h.Del(HeaderWebhookSignature)
				return body, h
			},
		},
		{
			name: "wrong secret",
			mutate: func(_ *Verifier, _ http.Header) ([]byte, http.Header) {
				other := fixedVerifier(t, "another-secret", now)
				return body, signedHeaders(t, other, "msg", now, body)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := fixedVerifier(t, testSecret, now)
			b, h := tt.mutate(v, signedHeaders(t, v, "msg", now, body))
			_, err := v.Verify(h, b)
			require.ErrorIs(t, err, types.ErrInvalidSignature)
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	body := []byte(`{
		"type": "subscription.active",
		"data": {
			"id": "sub_123",
			"customer_id": "cus_9",
			"product_id": "prod_pro",
			"status": "active",
			"current_period_start": "2026-04-01T00:00:00Z",
			"current_period_end": "2026-05-01T00:00:00Z",
			"cancel_at_period_end": false,
			"customer": {"external_id": "2f0e4c32-5d59-4c4e-8d2a-0b7d1c1e9a11"}
		}
	}`)

	event, known, err := DecodeEvent("msg_9", body)
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, types.SubscriptionActive, event.Kind)
	assert.Equal(t, "msg_9", event.EventID)
	assert.Equal(t, "sub_123", event.Payload.ID)
	assert.Equal(t, "2f0e4c32-5d59-4c4e-8d2a-0b7d1c1e9a11", event.Payload.Customer.ExternalID)

	state := event.Payload.State()
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), state.CurrentPeriodEnd)
}

func TestDecodeEvent_UnknownTypeIsIgnored(t *testing.T) {
	event, known, err := DecodeEvent("msg_1", []byte(`{"type":"order.paid","data":{"id":"ord_1"}}`))
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, types.SubscriptionEventKind("order.paid"), event.Kind)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, _, err := DecodeEvent("msg_1", []byte(`not json`))
	require.ErrorIs(t, err, types.ErrBadRequest)

	_, _, err = DecodeEvent("msg_1", []byte(`{"type":"subscription.updated","data":{"status":"active"}}`))
	require.ErrorIs(t, err, types.ErrBadRequest)
}
