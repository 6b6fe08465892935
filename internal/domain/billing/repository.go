package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/db"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	// ApplyEvent records eventID and runs fn against an entitlement store bound to the same
	// transaction. A previously recorded id returns duplicate=true without calling fn; an
	// error from fn rolls back both the mutation and the event record.
	ApplyEvent(ctx context.Context, eventID, eventType string, fn func(store entitlement.Repository) error) (duplicate bool, err error)

	InsertOverageCharge(ctx context.Context, charge types.OverageCharge) (*types.OverageCharge, error)
	MarkOverageReported(ctx context.Context, chargeID uuid.UUID) error
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool db.Querier
}

func NewRepository(pgpool db.Querier, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *RepositoryImpl) rollback(ctx context.Context, tx pgx.Tx, l *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		l.ErrorContext(ctx, "Failed to rollback transaction", slog.Any("error", err))
	}
}

func (r *RepositoryImpl) ApplyEvent(ctx context.Context, eventID, eventType string, fn func(store entitlement.Repository) error) (bool, error) {
	ctx, span := otel.Tracer("BillingRepository").Start(ctx, "ApplyEvent", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "billing_webhook_events"),
		attribute.String("webhook.id", eventID),
		attribute.String("webhook.type", eventType),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ApplyEvent"), slog.String("eventID", eventID))

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to begin transaction", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction failed")
		return false, fmt.Errorf("database error beginning transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO billing_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		r.rollback(ctx, tx, l)
		l.ErrorContext(ctx, "Failed to record webhook event", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.rollback(ctx, tx, l)
		l.InfoContext(ctx, "Duplicate webhook delivery ignored")
		span.SetAttributes(attribute.Bool("webhook.duplicate", true))
		span.SetStatus(codes.Ok, "Duplicate delivery")
		return true, nil
	}

	if err := fn(entitlement.NewRepository(tx, r.logger)); err != nil {
		r.rollback(ctx, tx, l)
		span.RecordError(err)
		span.SetStatus(codes.Error, "Event handler failed")
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		l.ErrorContext(ctx, "Failed to commit transaction", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction commit failed")
		return false, fmt.Errorf("database error committing transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "Event applied")
	return false, nil
}

func (r *RepositoryImpl) InsertOverageCharge(ctx context.Context, charge types.OverageCharge) (*types.OverageCharge, error) {
	ctx, span := otel.Tracer("BillingRepository").Start(ctx, "InsertOverageCharge", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "overage_charges"),
		attribute.String("user.id", charge.UserID.String()),
	))
	defer span.End()

	query := `
		INSERT INTO overage_charges (
			user_id, external_subscription_id, quantity, unit_price, amount, period_start, period_end
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)
		RETURNING id, created_at`

	err := r.pgpool.QueryRow(ctx, query,
		charge.UserID, charge.ExternalSubscriptionID, charge.Quantity,
		charge.UnitPrice.StringFixed(2), charge.Amount.StringFixed(2),
		charge.PeriodStart, charge.PeriodEnd,
	).Scan(&charge.ID, &charge.CreatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert overage charge", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("failed to insert overage charge: %w", err)
	}

	span.SetStatus(codes.Ok, "Overage charge stored")
	return &charge, nil
}

func (r *RepositoryImpl) MarkOverageReported(ctx context.Context, chargeID uuid.UUID) error {
	ctx, span := otel.Tracer("BillingRepository").Start(ctx, "MarkOverageReported", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "overage_charges"),
	))
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, "UPDATE overage_charges SET reported = TRUE WHERE id = $1", chargeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return fmt.Errorf("failed to mark overage reported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("overage charge %s: %w", chargeID, types.ErrNotFound)
	}
	span.SetStatus(codes.Ok, "Overage marked reported")
	return nil
}
