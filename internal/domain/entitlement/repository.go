package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/db"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository is the entitlement store. Debit is the only operation that consumes credits;
// nothing else may read-modify-write users.credits.
type Repository interface {
	// GetEntitlement returns the credit balance and subscription of a user.
	// Returns types.ErrUserNotFound if the user doesn't exist.
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*types.Entitlement, error)

	// Debit atomically consumes amount credits if the user has enough or holds an active subscription.
	// Returns types.ErrNoCredits when the condition rejects the debit.
	Debit(ctx context.Context, userID uuid.UUID, amount int) (*types.DebitResult, error)

	// ResetForNewPeriod restores the monthly allotment at a billing-period rollover.
	ResetForNewPeriod(ctx context.Context, userID uuid.UUID, monthlyCredits int, periodStart, periodEnd time.Time) error
	// ResetToFreeTier deletes the subscription and restores the free allotment.
	ResetToFreeTier(ctx context.Context, userID uuid.UUID, freeCredits int) error
	// GrantCredits sets the balance outright.
	GrantCredits(ctx context.Context, userID uuid.UUID, credits int) error

	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*types.Subscription, error)
	// UpsertSubscription creates the user's subscription, replacing any previous one.
	UpsertSubscription(ctx context.Context, userID uuid.UUID, state types.SubscriptionState, monthlyCredits int) (*types.Subscription, error)
	// UpdateSubscriptionState writes status, period bounds and cancelAtPeriodEnd.
	UpdateSubscriptionState(ctx context.Context, state types.SubscriptionState) (*types.Subscription, error)
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool db.Querier
}

// NewRepository builds the store on a pool or on an open transaction.
func NewRepository(pgpool db.Querier, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func startSpan(ctx context.Context, name, table string, userID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer("EntitlementRepository").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", table),
		attribute.String("user.id", userID.String()),
	))
}

func (r *RepositoryImpl) rollback(ctx context.Context, tx pgx.Tx, l *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		l.ErrorContext(ctx, "Failed to rollback transaction", slog.Any("error", err))
	}
}

const subscriptionColumns = `id, user_id, external_subscription_id, external_customer_id, external_product_id,
       status, current_period_start, current_period_end, monthly_credits, credits_used,
       cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.ExternalSubscriptionID, &s.ExternalCustomerID, &s.ExternalProductID,
		&s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.MonthlyCredits, &s.CreditsUsed,
		&s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RepositoryImpl) GetEntitlement(ctx context.Context, userID uuid.UUID) (*types.Entitlement, error) {
	ctx, span := startSpan(ctx, "GetEntitlement", "users", userID)
	defer span.End()

	l := r.logger.With(slog.String("method", "GetEntitlement"), slog.String("userID", userID.String()))

	query := `
		SELECT u.id, u.email_verified_at IS NOT NULL, u.credits, u.lifetime_credits,
		       s.id, s.external_subscription_id, s.external_customer_id, s.external_product_id,
		       s.status, s.current_period_start, s.current_period_end, s.monthly_credits,
		       s.credits_used, s.cancel_at_period_end, s.created_at, s.updated_at
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id
		WHERE u.id = $1
	`

	var (
		ent               types.Entitlement
		subID             *uuid.UUID
		externalID        *string
		customerID        *string
		productID         *string
		status            *string
		periodStart       *time.Time
		periodEnd         *time.Time
		monthlyCredits    *int
		creditsUsed       *int
		cancelAtPeriodEnd *bool
		createdAt         *time.Time
		updatedAt         *time.Time
	)
	err := r.pgpool.QueryRow(ctx, query, userID).Scan(
		&ent.UserID, &ent.EmailVerified, &ent.Credits, &ent.LifetimeCredits,
		&subID, &externalID, &customerID, &productID,
		&status, &periodStart, &periodEnd, &monthlyCredits,
		&creditsUsed, &cancelAtPeriodEnd, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.WarnContext(ctx, "User not found")
			span.SetStatus(codes.Error, "User not found")
			return nil, fmt.Errorf("entitlement lookup: %w", types.ErrUserNotFound)
		}
		l.ErrorContext(ctx, "Failed to load entitlement", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}

	if subID != nil {
		ent.Subscription = &types.Subscription{
			ID:                     *subID,
			UserID:                 ent.UserID,
			ExternalSubscriptionID: deref(externalID),
			ExternalCustomerID:     deref(customerID),
			ExternalProductID:      deref(productID),
			Status:                 deref(status),
			CurrentPeriodStart:     deref(periodStart),
			CurrentPeriodEnd:       deref(periodEnd),
			MonthlyCredits:         deref(monthlyCredits),
			CreditsUsed:            deref(creditsUsed),
			CancelAtPeriodEnd:      deref(cancelAtPeriodEnd),
			CreatedAt:              deref(createdAt),
			UpdatedAt:              deref(updatedAt),
		}
	}

	span.SetAttributes(
		attribute.Int("entitlement.credits", ent.Credits),
		attribute.Bool("entitlement.pro", ent.IsPro()),
	)
	span.SetStatus(codes.Ok, "Entitlement loaded")
	return &ent, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Debit runs the conditional decrement and the subscription usage increment in one transaction.
// Concurrent debits for the same user serialise on the users row lock taken by the UPDATE, and
// the WHERE clause is re-evaluated against the committed balance, so two requests can never both
// spend the last free credit.
func (r *RepositoryImpl) Debit(ctx context.Context, userID uuid.UUID, amount int) (*types.DebitResult, error) {
	ctx, span := startSpan(ctx, "Debit", "users", userID)
	defer span.End()
	span.SetAttributes(attribute.Int("debit.amount", amount))

	l := r.logger.With(slog.String("method", "Debit"), slog.String("userID", userID.String()))

	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit amount must be positive", types.ErrBadRequest)
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to begin transaction", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction failed")
		return nil, fmt.Errorf("database error beginning transaction: %w", err)
	}

	debitQuery := `
		UPDATE users
		SET credits = credits - $2,
		    lifetime_credits = lifetime_credits + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND (credits >= $2 OR EXISTS (
		        SELECT 1 FROM subscriptions s
		        WHERE s.user_id = users.id AND s.status = 'active'))
		RETURNING credits, lifetime_credits,
		          EXISTS (SELECT 1 FROM subscriptions s WHERE s.user_id = users.id AND s.status = 'active')
	`

	var (
		result types.DebitResult
		isPro  bool
	)
	err = tx.QueryRow(ctx, debitQuery, userID, amount).Scan(&result.Credits, &result.LifetimeCredits, &isPro)
	if err != nil {
		r.rollback(ctx, tx, l)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyRejectedDebit(ctx, l, span, userID)
		}
		l.ErrorContext(ctx, "Failed to debit credits", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}

	usageQuery := `
		UPDATE subscriptions
		SET credits_used = credits_used + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING credits_used, monthly_credits
	`
	err = tx.QueryRow(ctx, usageQuery, userID, amount).Scan(&result.CreditsUsed, &result.MonthlyCredits)
	switch {
	case err == nil:
		result.HasSubscription = true
	case errors.Is(err, pgx.ErrNoRows):
		result.HasSubscription = false
	default:
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to record subscription usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("failed to record subscription usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		l.ErrorContext(ctx, "Failed to commit transaction", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction commit failed")
		return nil, fmt.Errorf("database error committing transaction: %w", err)
	}

	// The balance before this debit was credits+amount; consuming from a non-positive
	// balance under an active plan is billed as overage.
	result.Overage = isPro && result.Credits+amount <= 0

	l.InfoContext(ctx, "Credits debited",
		slog.Int("amount", amount),
		slog.Int("credits", result.Credits),
		slog.Bool("overage", result.Overage))
	span.SetAttributes(
		attribute.Int("entitlement.credits", result.Credits),
		attribute.Bool("debit.overage", result.Overage),
	)
	span.SetStatus(codes.Ok, "Credits debited")
	return &result, nil
}

func (r *RepositoryImpl) classifyRejectedDebit(ctx context.Context, l *slog.Logger, span trace.Span, userID uuid.UUID) error {
	var exists bool
	if err := r.pgpool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
		l.ErrorContext(ctx, "Failed to check user existence", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		l.WarnContext(ctx, "Debit for missing user")
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("debit: %w", types.ErrUserNotFound)
	}
	l.InfoContext(ctx, "Debit rejected, no credits available")
	span.SetStatus(codes.Error, "No credits")
	return fmt.Errorf("debit: %w", types.ErrNoCredits)
}

func (r *RepositoryImpl) ResetForNewPeriod(ctx context.Context, userID uuid.UUID, monthlyCredits int, periodStart, periodEnd time.Time) error {
	ctx, span := startSpan(ctx, "ResetForNewPeriod", "subscriptions", userID)
	defer span.End()

	l := r.logger.With(slog.String("method", "ResetForNewPeriod"), slog.String("userID", userID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction failed")
		return fmt.Errorf("database error beginning transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users SET credits = $2, credits_reset_at = NOW(), updated_at = NOW()
		WHERE id = $1`, userID, monthlyCredits)
	if err != nil {
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to reset credits", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to reset credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.rollback(ctx, tx, l)
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("reset for new period: %w", types.ErrUserNotFound)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET credits_used = 0, monthly_credits = $2, current_period_start = $3, current_period_end = $4, updated_at = NOW()
		WHERE user_id = $1`, userID, monthlyCredits, periodStart, periodEnd); err != nil {
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to reset subscription usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to reset subscription usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction commit failed")
		return fmt.Errorf("database error committing transaction: %w", err)
	}

	l.InfoContext(ctx, "Credits reset for new period", slog.Int("credits", monthlyCredits))
	span.SetStatus(codes.Ok, "Period reset")
	return nil
}

func (r *RepositoryImpl) ResetToFreeTier(ctx context.Context, userID uuid.UUID, freeCredits int) error {
	ctx, span := startSpan(ctx, "ResetToFreeTier", "subscriptions", userID)
	defer span.End()

	l := r.logger.With(slog.String("method", "ResetToFreeTier"), slog.String("userID", userID.String()))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction failed")
		return fmt.Errorf("database error beginning transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM subscriptions WHERE user_id = $1", userID); err != nil {
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to delete subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	tag, err := tx.Exec(ctx, "UPDATE users SET credits = $2, updated_at = NOW() WHERE id = $1", userID, freeCredits)
	if err != nil {
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to reset credits", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to reset credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.rollback(ctx, tx, l)
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("reset to free tier: %w", types.ErrUserNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction commit failed")
		return fmt.Errorf("database error committing transaction: %w", err)
	}

	l.InfoContext(ctx, "User reset to free tier", slog.Int("credits", freeCredits))
	span.SetStatus(codes.Ok, "Reset to free tier")
	return nil
}

func (r *RepositoryImpl) GrantCredits(ctx context.Context, userID uuid.UUID, credits int) error {
	ctx, span := startSpan(ctx, "GrantCredits", "users", userID)
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, "UPDATE users SET credits = $2, updated_at = NOW() WHERE id = $1", userID, credits)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to grant credits", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "User not found")
		return fmt.Errorf("grant credits: %w", types.ErrUserNotFound)
	}
	span.SetStatus(codes.Ok, "Credits granted")
	return nil
}

func (r *RepositoryImpl) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*types.Subscription, error) {
	ctx, span := otel.Tracer("EntitlementRepository").Start(ctx, "GetSubscriptionByExternalID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("subscription.external_id", externalID),
	))
	defer span.End()

	row := r.pgpool.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE external_subscription_id = $1", externalID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription %s: %w", externalID, types.ErrSubscriptionNotFound)
		}
		r.logger.ErrorContext(ctx, "Failed to get subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	span.SetStatus(codes.Ok, "Subscription loaded")
	return sub, nil
}

func (r *RepositoryImpl) UpsertSubscription(ctx context.Context, userID uuid.UUID, state types.SubscriptionState, monthlyCredits int) (*types.Subscription, error) {
	ctx, span := startSpan(ctx, "UpsertSubscription", "subscriptions", userID)
	defer span.End()

	query := `
		INSERT INTO subscriptions (
			user_id, external_subscription_id, external_customer_id, external_product_id, status,
			current_period_start, current_period_end, monthly_credits, credits_used, cancel_at_period_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			external_subscription_id = EXCLUDED.external_subscription_id,
			external_customer_id     = EXCLUDED.external_customer_id,
			external_product_id      = EXCLUDED.external_product_id,
			status                   = EXCLUDED.status,
			current_period_start     = EXCLUDED.current_period_start,
			current_period_end       = EXCLUDED.current_period_end,
			monthly_credits          = EXCLUDED.monthly_credits,
			credits_used             = 0,
			cancel_at_period_end     = EXCLUDED.cancel_at_period_end,
			updated_at               = NOW()
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(r.pgpool.QueryRow(ctx, query,
		userID, state.ExternalSubscriptionID, state.ExternalCustomerID, state.ExternalProductID, state.Status,
		state.CurrentPeriodStart, state.CurrentPeriodEnd, monthlyCredits, state.CancelAtPeriodEnd,
	))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to upsert subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	span.SetStatus(codes.Ok, "Subscription stored")
	return sub, nil
}

func (r *RepositoryImpl) UpdateSubscriptionState(ctx context.Context, state types.SubscriptionState) (*types.Subscription, error) {
	ctx, span := otel.Tracer("EntitlementRepository").Start(ctx, "UpdateSubscriptionState", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("subscription.external_id", state.ExternalSubscriptionID),
	))
	defer span.End()

	query := `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
		    cancel_at_period_end = $5, updated_at = NOW()
		WHERE external_subscription_id = $1
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(r.pgpool.QueryRow(ctx, query,
		state.ExternalSubscriptionID, state.Status, state.CurrentPeriodStart, state.CurrentPeriodEnd, state.CancelAtPeriodEnd,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription %s: %w", state.ExternalSubscriptionID, types.ErrSubscriptionNotFound)
		}
		r.logger.ErrorContext(ctx, "Failed to update subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	span.SetStatus(codes.Ok, "Subscription updated")
	return sub, nil
}
