package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

func newWebhookHandler(t *testing.T) (*Handler, *fixture, *Verifier) {
	t.Helper()
	f := newFixture(t)
	v := fixedVerifier(t, testSecret, time.Now())
	return NewHandler(f.svc, v, newTestLogger()), f, v
}

func webhookRequest(t *testing.T, v *Verifier, id string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	for k, vals := range signedHeaders(t, v, id, time.Now(), body) {
		req.Header[k] = vals
	}
	return req
}

func createdBody(userID uuid.UUID) []byte {
	return []byte(`{"type":"subscription.created","data":{` +
		`"id":"sub_77","customer_id":"cus_1","product_id":"prod_pro","status":"active",` +
		`"current_period_start":"2026-04-01T00:00:00Z","current_period_end":"2026-05-01T00:00:00Z",` +
		`"customer":{"external_id":"` + userID.String() + `"}}}`)
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) webhookAck {
	t.Helper()
	var ack webhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

func TestHandleWebhook_ProcessesAndDeduplicates(t *testing.T) {
	h, f, v := newWebhookHandler(t)
	userID := f.store.AddUser(1, true)
	body := createdBody(userID)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, v, "msg_a", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed", decodeAck(t, rec).Status)
	assert.Equal(t, 20, f.store.Credits(userID))

	rec = httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, v, "msg_a", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decodeAck(t, rec).Status)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	h, f, v := newWebhookHandler(t)
	userID := f.store.AddUser(1, true)

	req := webhookRequest(t, v, "msg_b", createdBody(userID))
	req.Header.Set(HeaderWebhookSignature, "v1,Zm9yZ2Vk")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, f.store.Credits(userID))
}

func TestHandleWebhook_UnknownEventIgnored(t *testing.T) {
	h, _, v := newWebhookHandler(t)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, v, "msg_c", []byte(`{"type":"checkout.created","data":{}}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decodeAck(t, rec).Status)
}

func TestHandleWebhook_UnknownSubscriptionIs404(t *testing.T) {
	h, _, v := newWebhookHandler(t)
	body := []byte(`{"type":"subscription.revoked","data":{"id":"sub_missing","status":"revoked",` +
		`"current_period_start":"2026-04-01T00:00:00Z","customer":{"external_id":"x"}}}`)

	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, webhookRequest(t, v, "msg_d", body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SUBSCRIPTION_NOT_FOUND")
}

func TestGetOverage(t *testing.T) {
	h, f, _ := newWebhookHandler(t)
	userID := f.store.AddUser(0, true)
	f.store.SetSubscription(userID, types.Subscription{ExternalSubscriptionID: "sub_1", Status: "active", MonthlyCredits: 20, CreditsUsed: 26})

	req := httptest.NewRequest(http.MethodGet, "/billing/overage", nil)
	req = req.WithContext(interceptors.WithSession(req.Context(), &types.Session{UserID: userID, EmailVerified: true}))
	rec := httptest.NewRecorder()
	h.GetOverage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(6), body["overageCredits"])
	amount, err := decimal.NewFromString(body["amount"].(string))
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(3)))
}
