package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/observability"
)

var _ Service = (*ServiceImpl)(nil)

// Service exposes credit balances to the rest of the application.
type Service interface {
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*types.Entitlement, error)
	GetCreditsSummary(ctx context.Context, userID uuid.UUID) (*types.CreditsSummary, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int) (*types.DebitResult, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
}

func NewService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
}

func (s *ServiceImpl) GetEntitlement(ctx context.Context, userID uuid.UUID) (*types.Entitlement, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "GetEntitlement", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	ent, err := s.repo.GetEntitlement(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load entitlement")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Entitlement loaded")
	return ent, nil
}

func (s *ServiceImpl) GetCreditsSummary(ctx context.Context, userID uuid.UUID) (*types.CreditsSummary, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "GetCreditsSummary", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "GetCreditsSummary"), slog.String("userID", userID.String()))

	ent, err := s.repo.GetEntitlement(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to load entitlement", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load entitlement")
		return nil, fmt.Errorf("failed to load credits: %w", err)
	}

	span.SetStatus(codes.Ok, "Credits summary built")
	return Summarize(ent), nil
}

// Summarize renders an entitlement as the credits payload. Subscription fields are only
// present when the user has a subscription row, whatever its status.
func Summarize(ent *types.Entitlement) *types.CreditsSummary {
	summary := &types.CreditsSummary{Credits: ent.Credits}
	sub := ent.Subscription
	if sub == nil {
		return summary
	}
	summary.HasSubscription = true
	summary.SubscriptionStatus = &sub.Status
	summary.MonthlyCredits = &sub.MonthlyCredits
	summary.CreditsUsed = &sub.CreditsUsed
	summary.CurrentPeriodEnd = &sub.CurrentPeriodEnd
	summary.CancelAtPeriodEnd = &sub.CancelAtPeriodEnd
	return summary
}

func (s *ServiceImpl) Debit(ctx context.Context, userID uuid.UUID, amount int) (*types.DebitResult, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "Debit", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.Int("debit.amount", amount),
	))
	defer span.End()

	result, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Debit failed")
		return nil, err
	}

	kind := "standard"
	if result.Overage {
		kind = "overage"
	}
	observability.CreditsDebitedTotal.WithLabelValues(kind).Add(float64(amount))

	span.SetStatus(codes.Ok, "Credits debited")
	return result, nil
}
