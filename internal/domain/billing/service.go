package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	// ProcessEvent applies one verified delivery. duplicate is true when the delivery id was
	// already processed.
	ProcessEvent(ctx context.Context, event types.SubscriptionEvent) (duplicate bool, err error)
	// RecordOverage stores and reports usage beyond the monthly allotment after an overage debit.
	RecordOverage(ctx context.Context, userID uuid.UUID, debited int, result *types.DebitResult) (*types.OverageCharge, error)
	GetOverageSummary(ctx context.Context, userID uuid.UUID) (*types.OverageSummary, error)
}

// Plan holds the credit allotments and the overage price.
type Plan struct {
	FreeCredits       int
	ProMonthlyCredits int
	OverageRate       decimal.Decimal
}

// ParsePlan builds a Plan from configuration values.
func ParsePlan(freeCredits, proMonthlyCredits int, overageRate string) (Plan, error) {
	rate, err := decimal.NewFromString(overageRate)
	if err != nil {
		return Plan{}, fmt.Errorf("invalid overage rate %q: %w", overageRate, err)
	}
	if rate.IsNegative() {
		return Plan{}, fmt.Errorf("overage rate must not be negative")
	}
	return Plan{FreeCredits: freeCredits, ProMonthlyCredits: proMonthlyCredits, OverageRate: rate}, nil
}

// OverageUnits is the usage beyond the allotment in the current period.
func OverageUnits(creditsUsed, monthlyCredits int) int {
	return max(0, creditsUsed-monthlyCredits)
}

// OverageAmount prices units at rate, rounded to cents.
func OverageAmount(units int, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(int64(units))).Round(2)
}

type ServiceImpl struct {
	logger       *slog.Logger
	repo         Repository
	entitlements entitlement.Repository
	reporter     UsageReporter
	plan         Plan
}

func NewService(repo Repository, entitlements entitlement.Repository, reporter UsageReporter, plan Plan, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		repo:         repo,
		entitlements: entitlements,
		reporter:     reporter,
		plan:         plan,
	}
}

func (s *ServiceImpl) ProcessEvent(ctx context.Context, event types.SubscriptionEvent) (bool, error) {
	ctx, span := otel.Tracer("BillingService").Start(ctx, "ProcessEvent", trace.WithAttributes(
		attribute.String("webhook.id", event.EventID),
		attribute.String("webhook.type", string(event.Kind)),
		attribute.String("subscription.external_id", event.Payload.ID),
	))
	defer span.End()

	l := s.logger.With(
		slog.String("method", "ProcessEvent"),
		slog.String("eventID", event.EventID),
		slog.String("kind", string(event.Kind)),
		slog.String("subscriptionID", event.Payload.ID),
	)

	duplicate, err := s.repo.ApplyEvent(ctx, event.EventID, string(event.Kind), func(store entitlement.Repository) error {
		return s.apply(ctx, store, event)
	})
	if err != nil {
		l.WarnContext(ctx, "Failed to apply subscription event", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Event not applied")
		return false, err
	}

	if duplicate {
		l.InfoContext(ctx, "Duplicate subscription event")
	} else {
		l.InfoContext(ctx, "Subscription event applied")
	}
	span.SetStatus(codes.Ok, "Event processed")
	return duplicate, nil
}

// apply is the subscription state machine. Every event kind has exactly one branch.
func (s *ServiceImpl) apply(ctx context.Context, store entitlement.Repository, event types.SubscriptionEvent) error {
	state := event.Payload.State()

	switch event.Kind {
	case types.SubscriptionCreated:
		if _, err := store.GetSubscriptionByExternalID(ctx, state.ExternalSubscriptionID); err == nil {
			return nil
		} else if !isSubscriptionNotFound(err) {
			return err
		}
		userID, err := uuid.Parse(event.Payload.Customer.ExternalID)
		if err != nil {
			return fmt.Errorf("%w: customer external id %q is not a user id", types.ErrBadRequest, event.Payload.Customer.ExternalID)
		}
		if _, err := store.UpsertSubscription(ctx, userID, state, s.plan.ProMonthlyCredits); err != nil {
			return err
		}
		return store.GrantCredits(ctx, userID, s.plan.ProMonthlyCredits)

	case types.SubscriptionUpdated:
		if _, err := store.GetSubscriptionByExternalID(ctx, state.ExternalSubscriptionID); err != nil {
			return err
		}
		_, err := store.UpdateSubscriptionState(ctx, state)
		return err

	case types.SubscriptionActive:
		sub, err := store.GetSubscriptionByExternalID(ctx, state.ExternalSubscriptionID)
		if err != nil {
			return err
		}
		if _, err := store.UpdateSubscriptionState(ctx, state); err != nil {
			return err
		}
		return store.ResetForNewPeriod(ctx, sub.UserID, s.plan.ProMonthlyCredits, state.CurrentPeriodStart, state.CurrentPeriodEnd)

	case types.SubscriptionCanceled:
		if _, err := store.GetSubscriptionByExternalID(ctx, state.ExternalSubscriptionID); err != nil {
			return err
		}
		state.CancelAtPeriodEnd = true
		_, err := store.UpdateSubscriptionState(ctx, state)
		return err

	case types.SubscriptionRevoked:
		sub, err := store.GetSubscriptionByExternalID(ctx, state.ExternalSubscriptionID)
		if err != nil {
			return err
		}
		return store.ResetToFreeTier(ctx, sub.UserID, s.plan.FreeCredits)

	default:
		return fmt.Errorf("%w: unhandled subscription event %q", types.ErrBadRequest, event.Kind)
	}
}

func (s *ServiceImpl) RecordOverage(ctx context.Context, userID uuid.UUID, debited int, result *types.DebitResult) (*types.OverageCharge, error) {
	ctx, span := otel.Tracer("BillingService").Start(ctx, "RecordOverage", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "RecordOverage"), slog.String("userID", userID.String()))

	if result == nil || !result.HasSubscription {
		return nil, nil
	}
	units := min(debited, OverageUnits(result.CreditsUsed, result.MonthlyCredits))
	if units <= 0 {
		span.SetStatus(codes.Ok, "No overage units")
		return nil, nil
	}

	ent, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load entitlement")
		return nil, fmt.Errorf("failed to load subscription for overage: %w", err)
	}
	if ent.Subscription == nil {
		return nil, fmt.Errorf("overage for user without subscription: %w", types.ErrSubscriptionNotFound)
	}

	charge, err := s.repo.InsertOverageCharge(ctx, types.OverageCharge{
		UserID:                 userID,
		ExternalSubscriptionID: ent.Subscription.ExternalSubscriptionID,
		Quantity:               units,
		UnitPrice:              s.plan.OverageRate,
		Amount:                 OverageAmount(units, s.plan.OverageRate),
		PeriodStart:            ent.Subscription.CurrentPeriodStart,
		PeriodEnd:              ent.Subscription.CurrentPeriodEnd,
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to store overage charge", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to store overage")
		return nil, err
	}

	if err := s.reporter.ReportOverage(ctx, *charge); err != nil {
		l.WarnContext(ctx, "Failed to report overage usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Ok, "Overage stored, report failed")
		return charge, nil
	}
	if err := s.repo.MarkOverageReported(ctx, charge.ID); err != nil {
		l.WarnContext(ctx, "Failed to mark overage reported", slog.Any("error", err))
	} else {
		charge.Reported = true
	}

	l.InfoContext(ctx, "Overage recorded",
		slog.Int("units", units),
		slog.String("amount", charge.Amount.StringFixed(2)))
	span.SetStatus(codes.Ok, "Overage recorded")
	return charge, nil
}

func (s *ServiceImpl) GetOverageSummary(ctx context.Context, userID uuid.UUID) (*types.OverageSummary, error) {
	ctx, span := otel.Tracer("BillingService").Start(ctx, "GetOverageSummary", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	ent, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load entitlement")
		return nil, err
	}

	summary := &types.OverageSummary{Rate: s.plan.OverageRate, Amount: decimal.Zero}
	if sub := ent.Subscription; sub != nil {
		units := OverageUnits(sub.CreditsUsed, sub.MonthlyCredits)
		periodEnd := sub.CurrentPeriodEnd
		summary.CreditsUsed = sub.CreditsUsed
		summary.MonthlyCredits = sub.MonthlyCredits
		summary.OverageCredits = units
		summary.Amount = OverageAmount(units, s.plan.OverageRate)
		summary.PeriodEnd = &periodEnd
	}

	span.SetStatus(codes.Ok, "Overage summary built")
	return summary, nil
}

func isSubscriptionNotFound(err error) bool {
	return errors.Is(err, types.ErrSubscriptionNotFound)
}
