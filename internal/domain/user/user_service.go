package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maytees/homifyai-sub000/internal/domain/entitlement"
	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

const maxNameLength = 100

var _ UserService = (*ServiceUserImpl)(nil)

type UserService interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*types.AccountResponse, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) (*types.User, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

// EntitlementReader loads the credit state shown next to the profile.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*types.Entitlement, error)
}

// SessionForgetter drops any cached session so a deleted account stops authenticating at once.
type SessionForgetter interface {
	ForgetSession(userID uuid.UUID)
}

type ServiceUserImpl struct {
	logger       *slog.Logger
	repo         UserRepo
	entitlements EntitlementReader
	store        storage.ObjectStore
	sessions     SessionForgetter
}

func NewUserService(repo UserRepo, entitlements EntitlementReader, store storage.ObjectStore, sessions SessionForgetter, logger *slog.Logger) *ServiceUserImpl {
	return &ServiceUserImpl{
		logger:       logger,
		repo:         repo,
		entitlements: entitlements,
		store:        store,
		sessions:     sessions,
	}
}

func (s *ServiceUserImpl) GetAccount(ctx context.Context, userID uuid.UUID) (*types.AccountResponse, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "GetAccount", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "GetAccount"), slog.String("userID", userID.String()))

	var (
		user *types.User
		ent  *types.Entitlement
	)
	g, childCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = s.repo.GetUserByID(childCtx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		ent, err = s.entitlements.GetEntitlement(childCtx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		l.ErrorContext(ctx, "Failed to load account", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load account")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Account loaded")
	return &types.AccountResponse{User: user, Credits: entitlement.Summarize(ent)}, nil
}

func (s *ServiceUserImpl) UpdateProfile(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) (*types.User, error) {
	ctx, span := otel.Tracer("UserService").Start(ctx, "UpdateProfile", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" || len([]rune(name)) > maxNameLength {
			return nil, fmt.Errorf("%w: name must be 1 to %d characters", types.ErrBadRequest, maxNameLength)
		}
		params.Name = &name
	}
	if params.Image != nil {
		image := strings.TrimSpace(*params.Image)
		if image != "" && !strings.HasPrefix(image, "https://") {
			return nil, fmt.Errorf("%w: image must be an https URL", types.ErrBadRequest)
		}
		params.Image = &image
	}

	user, err := s.repo.UpdateProfile(ctx, userID, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to update profile")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Profile updated")
	return user, nil
}

// DeleteAccount removes the user row, then the user's stored images. Object removal is
// best effort: the account is gone even if the bucket cleanup fails.
func (s *ServiceUserImpl) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	ctx, span := otel.Tracer("UserService").Start(ctx, "DeleteAccount", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "DeleteAccount"), slog.String("userID", userID.String()))

	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to delete user")
		return err
	}
	s.sessions.ForgetSession(userID)

	removed, err := s.store.DeletePrefix(context.WithoutCancel(ctx), storage.UserPrefix(userID))
	if err != nil {
		l.WarnContext(ctx, "Failed to remove stored images", slog.Any("error", err))
	}

	l.InfoContext(ctx, "Account deleted", slog.Int("objects_removed", removed))
	span.SetStatus(codes.Ok, "Account deleted")
	return nil
}
