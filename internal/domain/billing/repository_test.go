package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/types"
)

func newMockRepo(t *testing.T) (*RepositoryImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock, newTestLogger()), mock
}

func TestApplyEvent_CommitsMutationWithEventRecord(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO billing_webhook_events`).
		WithArgs("msg_1", "subscription.created").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE users SET credits = \$2`).
		WithArgs(userID, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	dup, err := repo.ApplyEvent(context.Background(), "msg_1", "subscription.created", func(store entitlement.Repository) error {
		return store.GrantCredits(context.Background(), userID, 20)
	})
	require.NoError(t, err)
	assert.False(t, dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvent_DuplicateSkipsHandler(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO billing_webhook_events`).
		WithArgs("msg_1", "subscription.created").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	called := false
	dup, err := repo.ApplyEvent(context.Background(), "msg_1", "subscription.created", func(entitlement.Repository) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvent_HandlerErrorRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO billing_webhook_events`).
		WithArgs("msg_2", "subscription.updated").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	_, err := repo.ApplyEvent(context.Background(), "msg_2", "subscription.updated", func(entitlement.Repository) error {
		return types.ErrSubscriptionNotFound
	})
	require.ErrorIs(t, err, types.ErrSubscriptionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvent_BeginFails(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := repo.ApplyEvent(context.Background(), "msg_3", "subscription.updated", func(entitlement.Repository) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOverageCharge(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, chargeID := uuid.New(), uuid.New()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	created := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO overage_charges`).
		WithArgs(userID, "sub_1", 1, "0.50", "0.50", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(chargeID, created))

	charge, err := repo.InsertOverageCharge(context.Background(), types.OverageCharge{
		UserID:                 userID,
		ExternalSubscriptionID: "sub_1",
		Quantity:               1,
		UnitPrice:              decimal.RequireFromString("0.5"),
		Amount:                 decimal.RequireFromString("0.5"),
		PeriodStart:            start,
		PeriodEnd:              end,
	})
	require.NoError(t, err)
	assert.Equal(t, chargeID, charge.ID)
	assert.Equal(t, created, charge.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOverageReported_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE overage_charges SET reported = TRUE`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkOverageReported(context.Background(), id)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
