package library

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
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/db"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100

	foreignKeyViolation = "23503"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository stores floor-plan metadata and folders. Every query is scoped by user id,
// so a foreign row behaves exactly like a missing one.
type Repository interface {
	CreateFloorPlan(ctx context.Context, userID uuid.UUID, params types.CreateFloorPlanParams) (*types.FloorPlan, error)
	GetFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*types.FloorPlan, error)
	ListFloorPlans(ctx context.Context, userID uuid.UUID, filter types.FloorPlanFilter) ([]types.FloorPlan, error)
	UpdateFloorPlan(ctx context.Context, userID, planID uuid.UUID, params types.UpdateFloorPlanParams) (*types.FloorPlan, error)
	// DeleteFloorPlan removes the row and returns it so the caller can delete the stored objects.
	DeleteFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*DeletedFloorPlan, error)

	CreateFolder(ctx context.Context, userID uuid.UUID, name string) (*types.Folder, error)
	GetFolder(ctx context.Context, userID, folderID uuid.UUID) (*types.Folder, error)
	ListFolders(ctx context.Context, userID uuid.UUID) ([]types.Folder, error)
	RenameFolder(ctx context.Context, userID, folderID uuid.UUID, name string) (*types.Folder, error)
	// DeleteFolder removes the folder; its plans are detached by the foreign key, not deleted.
	DeleteFolder(ctx context.Context, userID, folderID uuid.UUID) error
}

// DeletedFloorPlan is a removed row. ReferenceShared is set while another plan still points
// at the same reference image, which must then stay in storage.
type DeletedFloorPlan struct {
	types.FloorPlan
	ReferenceShared bool
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

func startSpan(ctx context.Context, name, table, operation string) (context.Context, trace.Span) {
	return otel.Tracer("LibraryRepository").Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	))
}

var floorPlanColumns = []string{
	"id", "user_id", "staging_style", "furnishing_density", "color_tone", "angle",
	"additional_notes", "reference_s3_key", "generated_s3_key", "is_favorite", "is_archived",
	"folder_id", "created_at",
}

var floorPlanReturning = "RETURNING " + strings.Join(floorPlanColumns, ", ")

func scanFloorPlan(row pgx.Row) (*types.FloorPlan, error) {
	var p types.FloorPlan
	err := row.Scan(&p.ID, &p.UserID, &p.StagingStyle, &p.FurnishingDensity, &p.ColorTone, &p.Angle,
		&p.AdditionalNotes, &p.ReferenceS3Key, &p.GeneratedS3Key, &p.IsFavorite, &p.IsArchived,
		&p.FolderID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func (r *RepositoryImpl) CreateFloorPlan(ctx context.Context, userID uuid.UUID, params types.CreateFloorPlanParams) (*types.FloorPlan, error) {
	ctx, span := startSpan(ctx, "CreateFloorPlan", "floor_plans", "INSERT")
	defer span.End()
	l := r.logger.With(slog.String("method", "CreateFloorPlan"), slog.String("user_id", userID.String()))

	query, args, err := psql().Insert("floor_plans").
		Columns("user_id", "staging_style", "furnishing_density", "color_tone", "angle",
			"additional_notes", "reference_s3_key", "generated_s3_key", "folder_id").
		Values(userID, params.StagingStyle, params.FurnishingDensity, params.ColorTone, params.Angle,
			params.AdditionalNotes, params.ReferenceS3Key, params.GeneratedS3Key, params.FolderID).
		Suffix(floorPlanReturning).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}

	plan, err := scanFloorPlan(r.pgpool.QueryRow(ctx, query, args...))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("folder or user missing: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to insert floor plan", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("failed to insert floor plan: %w", err)
	}

	span.SetStatus(codes.Ok, "floor plan created")
	return plan, nil
}

func (r *RepositoryImpl) GetFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*types.FloorPlan, error) {
	ctx, span := startSpan(ctx, "GetFloorPlan", "floor_plans", "SELECT")
	defer span.End()

	query, args, err := psql().Select(floorPlanColumns...).From("floor_plans").
		Where(squirrel.Eq{"id": planID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	plan, err := scanFloorPlan(r.pgpool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("floor plan %s: %w", planID, types.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, fmt.Errorf("failed to get floor plan: %w", err)
	}
	return plan, nil
}

func (r *RepositoryImpl) ListFloorPlans(ctx context.Context, userID uuid.UUID, filter types.FloorPlanFilter) ([]types.FloorPlan, error) {
	ctx, span := startSpan(ctx, "ListFloorPlans", "floor_plans", "SELECT")
	defer span.End()
	l := r.logger.With(slog.String("method", "ListFloorPlans"), slog.String("user_id", userID.String()))

	where := squirrel.Eq{"user_id": userID}
	if filter.FolderID != nil {
		where["folder_id"] = *filter.FolderID
	}
	if filter.IsFavorite != nil {
		where["is_favorite"] = *filter.IsFavorite
	}
	if filter.IsArchived != nil {
		where["is_archived"] = *filter.IsArchived
	}

	limit := filter.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	query, args, err := psql().Select(floorPlanColumns...).From("floor_plans").
		Where(where).
		OrderBy("created_at DESC", "id").
		Limit(limit).
		Offset(filter.Offset).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list floor plans", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to list floor plans: %w", err)
	}
	defer rows.Close()

	plans := make([]types.FloorPlan, 0)
	for rows.Next() {
		plan, err := scanFloorPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan floor plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating floor plans: %w", err)
	}

	span.SetAttributes(attribute.Int("result.count", len(plans)))
	return plans, nil
}

func (r *RepositoryImpl) UpdateFloorPlan(ctx context.Context, userID, planID uuid.UUID, params types.UpdateFloorPlanParams) (*types.FloorPlan, error) {
	ctx, span := startSpan(ctx, "UpdateFloorPlan", "floor_plans", "UPDATE")
	defer span.End()
	l := r.logger.With(slog.String("method", "UpdateFloorPlan"), slog.String("plan_id", planID.String()))

	builder := psql().Update("floor_plans").
		Where(squirrel.Eq{"id": planID, "user_id": userID})

	var hasUpdates bool
	if params.IsFavorite != nil {
		builder = builder.Set("is_favorite", *params.IsFavorite)
		hasUpdates = true
	}
	if params.IsArchived != nil {
		builder = builder.Set("is_archived", *params.IsArchived)
		hasUpdates = true
	}
	switch {
	case params.ClearFolder:
		builder = builder.Set("folder_id", nil)
		hasUpdates = true
	case params.FolderID != nil:
		builder = builder.Set("folder_id", *params.FolderID)
		hasUpdates = true
	}
	if params.AdditionalNotes != nil {
		builder = builder.Set("additional_notes", *params.AdditionalNotes)
		hasUpdates = true
	}

	if !hasUpdates {
		return r.GetFloorPlan(ctx, userID, planID)
	}

	query, args, err := builder.Suffix(floorPlanReturning).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}

	plan, err := scanFloorPlan(r.pgpool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("floor plan %s: %w", planID, types.ErrNotFound)
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("folder not found: %w", types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to update floor plan", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, fmt.Errorf("failed to update floor plan: %w", err)
	}

	span.SetStatus(codes.Ok, "floor plan updated")
	return plan, nil
}

// referenceSharedColumn is evaluated against the statement snapshot, where the deleted row is
// still visible, hence the id exclusion.
const referenceSharedColumn = `EXISTS (SELECT 1 FROM floor_plans o
       WHERE o.reference_s3_key = floor_plans.reference_s3_key AND o.id <> floor_plans.id) AS reference_shared`

func (r *RepositoryImpl) DeleteFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*DeletedFloorPlan, error) {
	ctx, span := startSpan(ctx, "DeleteFloorPlan", "floor_plans", "DELETE")
	defer span.End()

	query, args, err := psql().Delete("floor_plans").
		Where(squirrel.Eq{"id": planID, "user_id": userID}).
		Suffix(floorPlanReturning + ", " + referenceSharedColumn).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build delete: %w", err)
	}

	var d DeletedFloorPlan
	p := &d.FloorPlan
	err = r.pgpool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.UserID, &p.StagingStyle, &p.FurnishingDensity,
		&p.ColorTone, &p.Angle, &p.AdditionalNotes, &p.ReferenceS3Key, &p.GeneratedS3Key, &p.IsFavorite,
		&p.IsArchived, &p.FolderID, &p.CreatedAt, &d.ReferenceShared)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("floor plan %s: %w", planID, types.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return nil, fmt.Errorf("failed to delete floor plan: %w", err)
	}
	span.SetAttributes(attribute.Bool("reference.shared", d.ReferenceShared))
	return &d, nil
}

const folderColumns = `f.id, f.user_id, f.name,
       (SELECT COUNT(*) FROM floor_plans p WHERE p.folder_id = f.id) AS plan_count,
       f.created_at, f.updated_at`

func scanFolder(row pgx.Row) (*types.Folder, error) {
	var f types.Folder
	if err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.PlanCount, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *RepositoryImpl) CreateFolder(ctx context.Context, userID uuid.UUID, name string) (*types.Folder, error) {
	ctx, span := startSpan(ctx, "CreateFolder", "folders", "INSERT")
	defer span.End()

	f := types.Folder{UserID: userID, Name: name}
	err := r.pgpool.QueryRow(ctx, `
		INSERT INTO folders (user_id, name) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		userID, name,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, types.ErrUserNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to create folder", slog.String("method", "CreateFolder"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	return &f, nil
}

func (r *RepositoryImpl) GetFolder(ctx context.Context, userID, folderID uuid.UUID) (*types.Folder, error) {
	ctx, span := startSpan(ctx, "GetFolder", "folders", "SELECT")
	defer span.End()

	folder, err := scanFolder(r.pgpool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders f WHERE f.id = $1 AND f.user_id = $2`, folderID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", folderID, types.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return folder, nil
}

func (r *RepositoryImpl) ListFolders(ctx context.Context, userID uuid.UUID) ([]types.Folder, error) {
	ctx, span := startSpan(ctx, "ListFolders", "folders", "SELECT")
	defer span.End()

	rows, err := r.pgpool.Query(ctx,
		`SELECT `+folderColumns+` FROM folders f WHERE f.user_id = $1 ORDER BY f.name, f.id`, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]types.Folder, 0)
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, *folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating folders: %w", err)
	}
	return folders, nil
}

func (r *RepositoryImpl) RenameFolder(ctx context.Context, userID, folderID uuid.UUID, name string) (*types.Folder, error) {
	ctx, span := startSpan(ctx, "RenameFolder", "folders", "UPDATE")
	defer span.End()

	folder, err := scanFolder(r.pgpool.QueryRow(ctx, `
		UPDATE folders f SET name = $1, updated_at = $2
		WHERE f.id = $3 AND f.user_id = $4
		RETURNING `+folderColumns,
		name, time.Now().UTC(), folderID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", folderID, types.ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, fmt.Errorf("failed to rename folder: %w", err)
	}
	return folder, nil
}

func (r *RepositoryImpl) DeleteFolder(ctx context.Context, userID, folderID uuid.UUID) error {
	ctx, span := startSpan(ctx, "DeleteFolder", "folders", "DELETE")
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("folder %s: %w", folderID, types.ErrNotFound)
	}
	return nil
}
