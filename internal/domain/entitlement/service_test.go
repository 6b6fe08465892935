package entitlement_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/domain/entitlement/entitlementtest"
	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func activeSubscription(used int) types.Subscription {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return types.Subscription{
		ExternalSubscriptionID: "sub_" + uuid.NewString(),
		Status:                 types.SubscriptionStatusActive,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       start.AddDate(0, 1, 0),
		MonthlyCredits:         20,
		CreditsUsed:            used,
	}
}

func TestGetCreditsSummary_FreeUser(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(3, true)
	svc := entitlement.NewService(store, newTestLogger())

	summary, err := svc.GetCreditsSummary(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Credits)
	assert.False(t, summary.HasSubscription)
	assert.Nil(t, summary.SubscriptionStatus)
	assert.Nil(t, summary.MonthlyCredits)
}

func TestGetCreditsSummary_Subscriber(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(15, true)
	store.SetSubscription(userID, activeSubscription(5))
	svc := entitlement.NewService(store, newTestLogger())

	summary, err := svc.GetCreditsSummary(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, summary.HasSubscription)
	require.NotNil(t, summary.SubscriptionStatus)
	assert.Equal(t, "active", *summary.SubscriptionStatus)
	assert.Equal(t, 20, *summary.MonthlyCredits)
	assert.Equal(t, 5, *summary.CreditsUsed)
	assert.False(t, *summary.CancelAtPeriodEnd)
}

func TestGetCreditsSummary_MissingUser(t *testing.T) {
	svc := entitlement.NewService(entitlementtest.NewStore(), newTestLogger())

	_, err := svc.GetCreditsSummary(context.Background(), uuid.New())
	require.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestDebit_FreeUserCannotGoNegative(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(1, true)
	svc := entitlement.NewService(store, newTestLogger())

	result, err := svc.Debit(context.Background(), userID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Credits)

	_, err = svc.Debit(context.Background(), userID, 1)
	require.ErrorIs(t, err, types.ErrNoCredits)
	assert.Equal(t, 0, store.Credits(userID))
}

func TestDebit_ConcurrentLastCredit(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(1, true)
	svc := entitlement.NewService(store, newTestLogger())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), userID, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				assert.ErrorIs(t, err, types.ErrNoCredits)
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, 0, store.Credits(userID))
}

func TestDebit_ProUserGoesNegative(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(0, true)
	store.SetSubscription(userID, activeSubscription(20))
	svc := entitlement.NewService(store, newTestLogger())

	result, err := svc.Debit(context.Background(), userID, 1)
	require.NoError(t, err)
	assert.Equal(t, -1, result.Credits)
	assert.True(t, result.Overage)
	assert.Equal(t, 21, result.CreditsUsed)
}

func TestHandler_GetCredits(t *testing.T) {
	store := entitlementtest.NewStore()
	userID := store.AddUser(4, true)
	h := entitlement.NewHandler(entitlement.NewService(store, newTestLogger()), newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	req = req.WithContext(interceptors.WithSession(req.Context(), &types.Session{UserID: userID, EmailVerified: true}))
	rec := httptest.NewRecorder()
	h.GetCredits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(4), body["credits"])
	assert.Equal(t, false, body["hasSubscription"])
	assert.NotContains(t, body, "subscriptionStatus")
}

func TestHandler_GetCreditsRequiresSession(t *testing.T) {
	h := entitlement.NewHandler(entitlement.NewService(entitlementtest.NewStore(), newTestLogger()), newTestLogger())

	rec := httptest.NewRecorder()
	h.GetCredits(rec, httptest.NewRequest(http.MethodGet, "/credits", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
