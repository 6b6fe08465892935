package statistics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/db"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	// LibraryStatistics counts the user's floor plans and folders alongside lifetime credit usage.
	LibraryStatistics(ctx context.Context, userID uuid.UUID) (*types.LibraryStatistics, error)
}

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool db.Querier
}

func NewRepository(logger *slog.Logger, pgpool db.Querier) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *RepositoryImpl) LibraryStatistics(ctx context.Context, userID uuid.UUID) (*types.LibraryStatistics, error) {
	r.logger.DebugContext(ctx, "Getting library statistics", slog.String("user_id", userID.String()))

	query := `
	SELECT
	    (SELECT COUNT(*) FROM floor_plans WHERE user_id = u.id) AS total_plans,
	    (SELECT COUNT(*) FROM floor_plans WHERE user_id = u.id AND is_favorite) AS favorite_plans,
	    (SELECT COUNT(*) FROM floor_plans WHERE user_id = u.id AND is_archived) AS archived_plans,
	    (SELECT COUNT(*) FROM folders WHERE user_id = u.id) AS folders,
	    u.lifetime_credits
	FROM users u
	WHERE u.id = $1;
	`

	var stats types.LibraryStatistics

	err := r.pgpool.QueryRow(ctx, query, userID).Scan(
		&stats.TotalPlans,
		&stats.FavoritePlans,
		&stats.ArchivedPlans,
		&stats.Folders,
		&stats.LifetimeCredits,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrUserNotFound
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to get library statistics", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get library statistics: %w", err)
	}

	r.logger.InfoContext(ctx, "Successfully retrieved library statistics",
		slog.Int("total_plans", stats.TotalPlans),
		slog.Int("favorite_plans", stats.FavoritePlans),
		slog.Int("folders", stats.Folders))

	return &stats, nil
}
