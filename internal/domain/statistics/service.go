package statistics

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maytees/homifyai-sub000/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	GetLibraryStatistics(ctx context.Context, userID uuid.UUID) (*types.LibraryStatistics, error)
}

type ServiceImpl struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		repo:   repo,
		logger: logger,
	}
}

func (s *ServiceImpl) GetLibraryStatistics(ctx context.Context, userID uuid.UUID) (*types.LibraryStatistics, error) {
	l := s.logger.With(slog.String("method", "GetLibraryStatistics"))
	stats, err := s.repo.LibraryStatistics(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Failed to get library statistics", "error", err)
		return nil, err
	}

	l.InfoContext(ctx, "Successfully retrieved library statistics")
	return stats, nil
}
