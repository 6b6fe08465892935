package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/llm"
	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/observability"
)

// creditsPerGeneration is debited once per successful generation, whatever the gate outcome.
const creditsPerGeneration = 1

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	Generate(ctx context.Context, session *types.Session, req types.GenerateRequest) (*types.GeneratedImage, error)
}

// OverageRecorder is notified after a debit that consumed credits beyond the plan.
type OverageRecorder interface {
	RecordOverage(ctx context.Context, userID uuid.UUID, debited int, result *types.DebitResult) (*types.OverageCharge, error)
}

type ServiceImpl struct {
	logger       *slog.Logger
	entitlements entitlement.Service
	overage      OverageRecorder
	images       llm.ImageClient
	references   ReferenceLoader
	timeout      time.Duration
	watermark    func([]byte) ([]byte, error)
}

func NewService(
	entitlements entitlement.Service,
	overage OverageRecorder,
	images llm.ImageClient,
	references ReferenceLoader,
	timeout time.Duration,
	logger *slog.Logger,
) *ServiceImpl {
	return &ServiceImpl{
		logger:       logger,
		entitlements: entitlements,
		overage:      overage,
		images:       images,
		references:   references,
		timeout:      timeout,
		watermark:    Watermark,
	}
}

func (s *ServiceImpl) Generate(ctx context.Context, session *types.Session, req types.GenerateRequest) (*types.GeneratedImage, error) {
	ctx, span := otel.Tracer("GenerationService").Start(ctx, "Generate", trace.WithAttributes(
		attribute.String("llm.model", s.images.Model()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Generate"))

	fail := func(outcome string, err error) (*types.GeneratedImage, error) {
		observability.GenerationsTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	if session == nil {
		return fail("unauthenticated", types.ErrUnauthenticated)
	}
	l = l.With(slog.String("userID", session.UserID.String()))
	span.SetAttributes(attribute.String("user.id", session.UserID.String()))

	if !session.EmailVerified {
		return fail("denied", types.ErrEmailNotVerified)
	}

	ent, err := s.entitlements.GetEntitlement(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, types.ErrUserNotFound) {
			l.ErrorContext(ctx, "Session refers to a user that no longer exists")
		}
		return fail("entitlement_error", err)
	}

	decision := Evaluate(*ent)
	span.SetAttributes(attribute.String("gate.outcome", decision.Outcome.String()))
	if !decision.Allowed() {
		l.InfoContext(ctx, "Generation denied by gate", slog.String("reason", decision.Reason))
		if decision.Reason == types.DenyEmailNotVerified {
			return fail("denied", types.ErrEmailNotVerified)
		}
		return fail("denied", types.ErrNoCredits)
	}

	reference, mediaType, err := s.references.Load(ctx, session.UserID, req.ImageURL)
	if err != nil {
		l.WarnContext(ctx, "Failed to load reference image", slog.Any("error", err))
		return fail("bad_reference", err)
	}

	result, err := s.callModel(ctx, llm.ImageRequest{
		SystemPrompt:       systemPrompt,
		UserPrompt:         BuildUserPrompt(req),
		Reference:          reference,
		ReferenceMediaType: mediaType,
	})
	if err != nil {
		l.WarnContext(ctx, "Image generation failed", slog.Any("error", err))
		switch {
		case errors.Is(err, types.ErrInvalidImageType):
			return fail("not_floor_plan", err)
		case errors.Is(err, types.ErrGenerationTimeout):
			return fail("timeout", err)
		default:
			return fail("failed", err)
		}
	}

	isPro := ent.IsPro()
	output := &types.GeneratedImage{Data: result.Data, MediaType: result.MediaType}
	if !isPro {
		marked, err := s.watermark(result.Data)
		if err != nil {
			l.ErrorContext(ctx, "Failed to watermark image", slog.Any("error", err))
			return fail("failed", fmt.Errorf("%w: %v", types.ErrGenerationFailed, err))
		}
		output.Data = marked
		output.MediaType = "image/png"
		output.Watermarked = true
	}

	debit, err := s.entitlements.Debit(ctx, session.UserID, creditsPerGeneration)
	if err != nil {
		if errors.Is(err, types.ErrNoCredits) {
			l.InfoContext(ctx, "Credits consumed by a concurrent request, discarding image")
			return fail("race_lost", types.ErrNoCredits)
		}
		l.ErrorContext(ctx, "Failed to debit credits", slog.Any("error", err))
		return fail("debit_failed", err)
	}
	output.Credits = debit.Credits
	output.Overage = debit.Overage

	if debit.Overage && s.overage != nil {
		if _, err := s.overage.RecordOverage(ctx, session.UserID, creditsPerGeneration, debit); err != nil {
			l.WarnContext(ctx, "Failed to record overage", slog.Any("error", err))
		}
	}

	observability.GenerationsTotal.WithLabelValues("success").Inc()
	l.InfoContext(ctx, "Generation succeeded",
		slog.String("gate", decision.Outcome.String()),
		slog.Bool("watermarked", output.Watermarked),
		slog.Int("credits", debit.Credits))
	span.SetAttributes(
		attribute.Bool("generation.watermarked", output.Watermarked),
		attribute.Bool("generation.overage", output.Overage),
	)
	span.SetStatus(codes.Ok, "Generation succeeded")
	return output, nil
}

// callModel bounds the model call and translates its failures into domain errors.
func (s *ServiceImpl) callModel(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.images.GenerateImage(genCtx, req)
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(err, llm.ErrNotFloorPlan):
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidImageType, err)
	case ctx.Err() != nil:
		return nil, fmt.Errorf("generation aborted: %w", ctx.Err())
	case errors.Is(genCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", types.ErrGenerationTimeout, s.timeout)
	default:
		return nil, fmt.Errorf("%w: %v", types.ErrGenerationFailed, err)
	}
}
