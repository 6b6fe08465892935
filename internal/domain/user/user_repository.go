package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
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

var _ UserRepo = (*PostgresUserRepo)(nil)

// UserRepo defines the contract for account persistence.
type UserRepo interface {
	// GetUserByID retrieves the account and its credit balance.
	// Returns types.ErrUserNotFound if the user doesn't exist.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)

	// UpdateProfile updates mutable profile fields. Nil fields are left untouched.
	UpdateProfile(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) (*types.User, error)

	// DeleteUser hard deletes the user. Subscription, sessions, tokens, folders and
	// floor plans go with it through ON DELETE CASCADE.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type PostgresUserRepo struct {
	logger *slog.Logger
	pgpool db.Querier
}

func NewPostgresUserRepo(pgpool db.Querier, logger *slog.Logger) *PostgresUserRepo {
	return &PostgresUserRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

var userColumns = []string{
	"id", "email", "name", "image", "email_verified_at", "credits", "lifetime_credits",
	"credits_reset_at", "created_at", "updated_at",
}

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var verifiedAt *time.Time
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &verifiedAt, &u.Credits, &u.LifetimeCredits,
		&u.CreditsResetAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.EmailVerified = verifiedAt != nil
	return &u, nil
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "GetUserByID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	query, args, err := squirrel.Select(userColumns...).From("users").
		Where(squirrel.Eq{"id": userID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	user, err := scanUser(r.pgpool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetStatus(codes.Error, "User not found")
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	span.SetStatus(codes.Ok, "User found")
	return user, nil
}

func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, params types.UpdateAccountParams) (*types.User, error) {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "UpdateProfile", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "UpdateProfile"), slog.String("userID", userID.String()))

	builder := squirrel.Update("users").
		PlaceholderFormat(squirrel.Dollar).
		Where(squirrel.Eq{"id": userID})

	hasUpdates := false
	if params.Name != nil {
		builder = builder.Set("name", *params.Name)
		span.SetAttributes(attribute.Bool("update.name", true))
		hasUpdates = true
	}
	if params.Image != nil {
		builder = builder.Set("image", *params.Image)
		span.SetAttributes(attribute.Bool("update.image", true))
		hasUpdates = true
	}
	if !hasUpdates {
		l.InfoContext(ctx, "No fields provided for profile update")
		return r.GetUserByID(ctx, userID)
	}

	query, args, err := builder.Set("updated_at", time.Now().UTC()).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update query: %w", err)
	}

	user, err := scanUser(r.pgpool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		l.ErrorContext(ctx, "Failed to update user profile", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB update failed")
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	l.InfoContext(ctx, "User profile updated")
	span.SetStatus(codes.Ok, "Profile updated")
	return user, nil
}

func (r *PostgresUserRepo) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	ctx, span := otel.Tracer("UserRepo").Start(ctx, "DeleteUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "users"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "DeleteUser"), slog.String("userID", userID.String()))

	tag, err := r.pgpool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to delete user", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB delete failed")
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		l.WarnContext(ctx, "Attempted to delete non-existent user")
		span.SetStatus(codes.Error, "User not found")
		return types.ErrUserNotFound
	}

	l.InfoContext(ctx, "User deleted")
	span.SetStatus(codes.Ok, "User deleted")
	return nil
}
