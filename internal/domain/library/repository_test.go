package library

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newMockRepo(t *testing.T) (*RepositoryImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock, newTestLogger()), mock
}

func ptr[T any](v T) *T { return &v }

func planRow(planID, userID uuid.UUID, folderID *uuid.UUID) *pgxmock.Rows {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(floorPlanColumns).AddRow(
		planID, userID, "modern", "balanced", "warm", "top-down",
		nil, "users/"+userID.String()+"/references/a.png", "users/"+userID.String()+"/generated/b.png",
		false, false, folderID, created,
	)
}

func TestCreateFloorPlan(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	mock.ExpectQuery(`INSERT INTO floor_plans \(user_id,staging_style,furnishing_density,color_tone,angle,additional_notes,reference_s3_key,generated_s3_key,folder_id\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9\) RETURNING id`).
		WithArgs(userID, "modern", "balanced", "warm", "top-down", (*string)(nil), "ref.png", "gen.png", (*uuid.UUID)(nil)).
		WillReturnRows(planRow(planID, userID, nil))

	plan, err := repo.CreateFloorPlan(context.Background(), userID, types.CreateFloorPlanParams{
		StagingOptions: types.StagingOptions{StagingStyle: "modern", FurnishingDensity: "balanced", ColorTone: "warm", Angle: "top-down"},
		ReferenceS3Key: "ref.png",
		GeneratedS3Key: "gen.png",
	})
	require.NoError(t, err)
	assert.Equal(t, planID, plan.ID)
	assert.Equal(t, "modern", plan.StagingStyle)
	assert.Nil(t, plan.FolderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFloorPlan_MissingFolder(t *testing.T) {
	repo, mock := newMockRepo(t)
	folderID := uuid.New()

	mock.ExpectQuery(`INSERT INTO floor_plans`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	_, err := repo.CreateFloorPlan(context.Background(), uuid.New(), types.CreateFloorPlanParams{FolderID: &folderID})
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFloorPlan_ScopedToUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT id, user_id, .* FROM floor_plans WHERE id = \$1 AND user_id = \$2`).
		WithArgs(planID.String(), userID.String()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetFloorPlan(context.Background(), userID, planID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFloorPlans_Filters(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, folderID := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM floor_plans WHERE folder_id = \$1 AND is_favorite = \$2 AND user_id = \$3 ORDER BY created_at DESC, id LIMIT 10 OFFSET 20`).
		WithArgs(folderID.String(), true, userID.String()).
		WillReturnRows(planRow(uuid.New(), userID, &folderID).AddRow(
			uuid.New(), userID, "scandinavian", "minimal", "cool", "perspective",
			ptr("keep the piano"), "r.png", "g.png", true, false, &folderID, time.Now(),
		))

	plans, err := repo.ListFloorPlans(context.Background(), userID, types.FloorPlanFilter{
		FolderID:   &folderID,
		IsFavorite: ptr(true),
		Limit:      10,
		Offset:     20,
	})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	require.NotNil(t, plans[1].AdditionalNotes)
	assert.Equal(t, "keep the piano", *plans[1].AdditionalNotes)
	assert.Equal(t, folderID, *plans[0].FolderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFloorPlans_DefaultAndMaxPage(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectQuery(`WHERE user_id = \$1 ORDER BY created_at DESC, id LIMIT 24 OFFSET 0`).
		WithArgs(userID.String()).
		WillReturnRows(pgxmock.NewRows(floorPlanColumns))
	mock.ExpectQuery(`WHERE user_id = \$1 ORDER BY created_at DESC, id LIMIT 100 OFFSET 0`).
		WithArgs(userID.String()).
		WillReturnRows(pgxmock.NewRows(floorPlanColumns))

	plans, err := repo.ListFloorPlans(context.Background(), userID, types.FloorPlanFilter{})
	require.NoError(t, err)
	assert.NotNil(t, plans)
	assert.Empty(t, plans)

	_, err = repo.ListFloorPlans(context.Background(), userID, types.FloorPlanFilter{Limit: 5000})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFloorPlan_PartialFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	mock.ExpectQuery(`UPDATE floor_plans SET is_favorite = \$1, folder_id = \$2 WHERE id = \$3 AND user_id = \$4 RETURNING`).
		WithArgs(true, nil, planID.String(), userID.String()).
		WillReturnRows(planRow(planID, userID, nil))

	plan, err := repo.UpdateFloorPlan(context.Background(), userID, planID, types.UpdateFloorPlanParams{
		IsFavorite:  ptr(true),
		ClearFolder: true,
	})
	require.NoError(t, err)
	assert.Equal(t, planID, plan.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFloorPlan_NoFieldsReadsCurrent(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT .* FROM floor_plans WHERE id = \$1 AND user_id = \$2`).
		WithArgs(planID.String(), userID.String()).
		WillReturnRows(planRow(planID, userID, nil))

	_, err := repo.UpdateFloorPlan(context.Background(), userID, planID, types.UpdateFloorPlanParams{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFloorPlan_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	mock.ExpectQuery(`UPDATE floor_plans SET is_archived = \$1`).
		WithArgs(true, planID.String(), userID.String()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateFloorPlan(context.Background(), userID, planID, types.UpdateFloorPlanParams{IsArchived: ptr(true)})
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFloorPlan_ReportsSharedReference(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, planID := uuid.New(), uuid.New()

	for _, shared := range []bool{true, false} {
		rows := pgxmock.NewRows(append(append([]string{}, floorPlanColumns...), "reference_shared")).AddRow(
			planID, userID, "modern", "balanced", "warm", "top-down",
			nil, "users/"+userID.String()+"/references/a.png", "users/"+userID.String()+"/generated/b.png",
			false, false, nil, time.Now(), shared,
		)
		mock.ExpectQuery(`DELETE FROM floor_plans WHERE id = \$1 AND user_id = \$2 RETURNING .*, EXISTS \(SELECT 1 FROM floor_plans o\s+WHERE o.reference_s3_key = floor_plans.reference_s3_key AND o.id <> floor_plans.id\) AS reference_shared`).
			WithArgs(planID.String(), userID.String()).
			WillReturnRows(rows)

		plan, err := repo.DeleteFloorPlan(context.Background(), userID, planID)
		require.NoError(t, err)
		assert.Contains(t, plan.GeneratedS3Key, "/generated/")
		assert.Equal(t, shared, plan.ReferenceShared)
	}

	mock.ExpectQuery(`DELETE FROM floor_plans`).
		WithArgs(planID.String(), userID.String()).
		WillReturnError(pgx.ErrNoRows)
	_, err := repo.DeleteFloorPlan(context.Background(), userID, planID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

var folderRowColumns = []string{"id", "user_id", "name", "plan_count", "created_at", "updated_at"}

func TestListFolders_WithCounts(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM floor_plans p WHERE p.folder_id = f.id`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(folderRowColumns).
			AddRow(uuid.New(), userID, "Kitchens", 3, now, now).
			AddRow(uuid.New(), userID, "Lofts", 0, now, now))

	folders, err := repo.ListFolders(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, 3, folders[0].PlanCount)
	assert.Equal(t, "Lofts", folders[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameFolder_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, folderID := uuid.New(), uuid.New()

	mock.ExpectQuery(`UPDATE folders f SET name`).
		WithArgs("Renamed", pgxmock.AnyArg(), folderID, userID).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.RenameFolder(context.Background(), userID, folderID, "Renamed")
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFolder(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID, folderID := uuid.New(), uuid.New()

	mock.ExpectExec(`DELETE FROM folders WHERE id = \$1 AND user_id = \$2`).
		WithArgs(folderID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM folders`).
		WithArgs(folderID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.DeleteFolder(context.Background(), userID, folderID))
	assert.ErrorIs(t, repo.DeleteFolder(context.Background(), userID, folderID), types.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
