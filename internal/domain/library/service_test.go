package library

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00")
)

// fakeRepo is an in-memory Repository with the same user scoping as the SQL one.
type fakeRepo struct {
	mu        sync.Mutex
	plans     map[uuid.UUID]*types.FloorPlan
	folders   map[uuid.UUID]*types.Folder
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{plans: map[uuid.UUID]*types.FloorPlan{}, folders: map[uuid.UUID]*types.Folder{}}
}

func (f *fakeRepo) CreateFloorPlan(_ context.Context, userID uuid.UUID, p types.CreateFloorPlanParams) (*types.FloorPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	plan := &types.FloorPlan{
		ID: uuid.New(), UserID: userID,
		StagingStyle: p.StagingStyle, FurnishingDensity: p.FurnishingDensity, ColorTone: p.ColorTone, Angle: p.Angle,
		AdditionalNotes: p.AdditionalNotes, ReferenceS3Key: p.ReferenceS3Key, GeneratedS3Key: p.GeneratedS3Key,
		FolderID: p.FolderID, CreatedAt: time.Now(),
	}
	f.plans[plan.ID] = plan
	clone := *plan
	return &clone, nil
}

func (f *fakeRepo) GetFloorPlan(_ context.Context, userID, planID uuid.UUID) (*types.FloorPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[planID]
	if !ok || plan.UserID != userID {
		return nil, types.ErrNotFound
	}
	clone := *plan
	return &clone, nil
}

func (f *fakeRepo) ListFloorPlans(_ context.Context, userID uuid.UUID, filter types.FloorPlanFilter) ([]types.FloorPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.FloorPlan, 0)
	for _, p := range f.plans {
		if p.UserID != userID {
			continue
		}
		if filter.IsFavorite != nil && p.IsFavorite != *filter.IsFavorite {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeRepo) UpdateFloorPlan(_ context.Context, userID, planID uuid.UUID, params types.UpdateFloorPlanParams) (*types.FloorPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[planID]
	if !ok || plan.UserID != userID {
		return nil, types.ErrNotFound
	}
	if params.IsFavorite != nil {
		plan.IsFavorite = *params.IsFavorite
	}
	if params.IsArchived != nil {
		plan.IsArchived = *params.IsArchived
	}
	if params.ClearFolder {
		plan.FolderID = nil
	} else if params.FolderID != nil {
		plan.FolderID = params.FolderID
	}
	clone := *plan
	return &clone, nil
}

func (f *fakeRepo) DeleteFloorPlan(_ context.Context, userID, planID uuid.UUID) (*DeletedFloorPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[planID]
	if !ok || plan.UserID != userID {
		return nil, types.ErrNotFound
	}
	delete(f.plans, planID)
	deleted := &DeletedFloorPlan{FloorPlan: *plan}
	for _, other := range f.plans {
		if other.ReferenceS3Key == plan.ReferenceS3Key {
			deleted.ReferenceShared = true
		}
	}
	return deleted, nil
}

func (f *fakeRepo) CreateFolder(_ context.Context, userID uuid.UUID, name string) (*types.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder := &types.Folder{ID: uuid.New(), UserID: userID, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.folders[folder.ID] = folder
	clone := *folder
	return &clone, nil
}

func (f *fakeRepo) GetFolder(_ context.Context, userID, folderID uuid.UUID) (*types.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok || folder.UserID != userID {
		return nil, types.ErrNotFound
	}
	clone := *folder
	return &clone, nil
}

func (f *fakeRepo) ListFolders(_ context.Context, userID uuid.UUID) ([]types.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Folder, 0)
	for _, folder := range f.folders {
		if folder.UserID == userID {
			out = append(out, *folder)
		}
	}
	return out, nil
}

func (f *fakeRepo) RenameFolder(ctx context.Context, userID, folderID uuid.UUID, name string) (*types.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok || folder.UserID != userID {
		return nil, types.ErrNotFound
	}
	folder.Name = name
	clone := *folder
	return &clone, nil
}

func (f *fakeRepo) DeleteFolder(_ context.Context, userID, folderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok || folder.UserID != userID {
		return types.ErrNotFound
	}
	delete(f.folders, folderID)
	for _, p := range f.plans {
		if p.FolderID != nil && *p.FolderID == folderID {
			p.FolderID = nil
		}
	}
	return nil
}

// failingStore fails every Put whose key contains failOn.
type failingStore struct {
	*storage.MemoryStore
	failOn string
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if strings.Contains(key, s.failOn) {
		return errors.New("bucket unavailable")
	}
	return s.MemoryStore.Put(ctx, key, data, contentType)
}

type libFixture struct {
	repo  *fakeRepo
	store *storage.MemoryStore
	svc   *ServiceImpl
}

func newLibFixture() *libFixture {
	repo := newFakeRepo()
	store := storage.NewMemoryStore("https://cdn.spacemint.test")
	return &libFixture{
		repo:  repo,
		store: store,
		svc:   NewService(repo, store, 1<<20, newTestLogger()),
	}
}

func TestUpload(t *testing.T) {
	f := newLibFixture()
	userID := uuid.New()

	upload, err := f.svc.Upload(context.Background(), userID, Image{Data: jpegBytes, ContentType: "image/png"})
	require.NoError(t, err)
	assert.True(t, storage.OwnedBy(upload.Key, userID))
	assert.True(t, strings.HasSuffix(upload.Key, ".jpg"), "extension follows the sniffed type")
	assert.Equal(t, "https://cdn.spacemint.test/"+upload.Key, upload.URL)

	_, mediaType, err := f.store.Get(context.Background(), upload.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mediaType)
}

func TestUpload_Rejects(t *testing.T) {
	f := newLibFixture()
	f.svc.maxUploadBytes = 16

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"gif", gifBytes},
		{"too large", append(slices.Clone(pngBytes), make([]byte, 32)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Upload(context.Background(), uuid.New(), Image{Data: tt.data})
			assert.ErrorIs(t, err, types.ErrBadRequest)
		})
	}
	assert.Zero(t, f.store.Len())
}

func TestSaveFloorPlan_WithUploadedReference(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()
	folder, err := f.svc.CreateFolder(ctx, userID, "  Kitchens ")
	require.NoError(t, err)
	assert.Equal(t, "Kitchens", folder.Name)

	upload, err := f.svc.Upload(ctx, userID, Image{Data: pngBytes})
	require.NoError(t, err)

	plan, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{
		StagingOptions: types.StagingOptions{StagingStyle: "modern", Angle: "top-down"},
		Generated:      Image{Data: pngBytes},
		ReferenceKey:   upload.Key,
		FolderID:       &folder.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, upload.Key, plan.ReferenceS3Key)
	assert.Contains(t, plan.GeneratedS3Key, "/generated/")
	assert.Equal(t, folder.ID, *plan.FolderID)
	assert.NotEmpty(t, plan.GeneratedURL)
	assert.NotEmpty(t, plan.ReferenceURL)
	assert.Equal(t, 2, f.store.Len())
}

func TestSaveFloorPlan_WithReferenceFile(t *testing.T) {
	f := newLibFixture()
	userID := uuid.New()

	plan, err := f.svc.SaveFloorPlan(context.Background(), userID, SaveParams{
		Generated: Image{Data: pngBytes},
		Reference: &Image{Data: jpegBytes},
	})
	require.NoError(t, err)
	assert.True(t, storage.OwnedBy(plan.ReferenceS3Key, userID))
	assert.True(t, strings.HasSuffix(plan.ReferenceS3Key, ".jpg"))
	assert.Equal(t, 2, f.store.Len())
}

func TestSaveFloorPlan_Validation(t *testing.T) {
	f := newLibFixture()
	userID := uuid.New()
	foreignKey := storage.ReferenceKey(uuid.New(), "png")
	missingFolder := uuid.New()

	tests := []struct {
		name   string
		params SaveParams
		want   error
	}{
		{"no reference", SaveParams{Generated: Image{Data: pngBytes}}, types.ErrBadRequest},
		{"foreign reference", SaveParams{Generated: Image{Data: pngBytes}, ReferenceKey: foreignKey}, types.ErrForbidden},
		{"bad generated", SaveParams{Generated: Image{Data: gifBytes}, ReferenceKey: storage.ReferenceKey(userID, "png")}, types.ErrBadRequest},
		{"unknown folder", SaveParams{Generated: Image{Data: pngBytes}, ReferenceKey: storage.ReferenceKey(userID, "png"), FolderID: &missingFolder}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveFloorPlan(context.Background(), userID, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.repo.plans)
}

func TestSaveFloorPlan_StorageFailure(t *testing.T) {
	repo := newFakeRepo()
	store := &failingStore{MemoryStore: storage.NewMemoryStore("https://cdn.spacemint.test"), failOn: "/generated/"}
	svc := NewService(repo, store, 1<<20, newTestLogger())

	_, err := svc.SaveFloorPlan(context.Background(), uuid.New(), SaveParams{
		Generated: Image{Data: pngBytes},
		Reference: &Image{Data: pngBytes},
	})
	require.ErrorIs(t, err, types.ErrPersistenceFailed)
	assert.Empty(t, repo.plans)
	assert.Zero(t, store.Len(), "written reference is cleaned up")
}

func TestSaveFloorPlan_InsertFailure(t *testing.T) {
	f := newLibFixture()
	f.repo.createErr = errors.New("connection reset")
	userID := uuid.New()

	_, err := f.svc.SaveFloorPlan(context.Background(), userID, SaveParams{
		Generated:    Image{Data: pngBytes},
		ReferenceKey: storage.ReferenceKey(userID, "png"),
	})
	require.ErrorIs(t, err, types.ErrPersistenceFailed)
	assert.Zero(t, f.store.Len(), "generated object is removed")
}

func TestUpdateFloorPlan(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()
	plan, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{Generated: Image{Data: pngBytes}, Reference: &Image{Data: pngBytes}})
	require.NoError(t, err)

	foreignFolder, err := f.svc.CreateFolder(ctx, uuid.New(), "Theirs")
	require.NoError(t, err)
	_, err = f.svc.UpdateFloorPlan(ctx, userID, plan.ID, types.UpdateFloorPlanParams{FolderID: &foreignFolder.ID})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.UpdateFloorPlan(ctx, userID, plan.ID, types.UpdateFloorPlanParams{FolderID: &foreignFolder.ID, ClearFolder: true})
	assert.ErrorIs(t, err, types.ErrBadRequest)

	fav := true
	updated, err := f.svc.UpdateFloorPlan(ctx, userID, plan.ID, types.UpdateFloorPlanParams{IsFavorite: &fav})
	require.NoError(t, err)
	assert.True(t, updated.IsFavorite)
	assert.NotEmpty(t, updated.GeneratedURL)

	_, err = f.svc.UpdateFloorPlan(ctx, uuid.New(), plan.ID, types.UpdateFloorPlanParams{IsFavorite: &fav})
	assert.ErrorIs(t, err, types.ErrNotFound, "other users see a missing plan")
}

func TestDeleteFloorPlan_RemovesObjects(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()
	plan, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{Generated: Image{Data: pngBytes}, Reference: &Image{Data: pngBytes}})
	require.NoError(t, err)
	require.Equal(t, 2, f.store.Len())

	assert.ErrorIs(t, f.svc.DeleteFloorPlan(ctx, uuid.New(), plan.ID), types.ErrNotFound)
	require.NoError(t, f.svc.DeleteFloorPlan(ctx, userID, plan.ID))
	assert.Zero(t, f.store.Len())

	_, err = f.svc.GetFloorPlan(ctx, userID, plan.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteFloorPlan_KeepsSharedReference(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()

	upload, err := f.svc.Upload(ctx, userID, Image{Data: pngBytes})
	require.NoError(t, err)
	first, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{Generated: Image{Data: pngBytes}, ReferenceKey: upload.Key})
	require.NoError(t, err)
	second, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{Generated: Image{Data: jpegBytes}, ReferenceKey: upload.Key})
	require.NoError(t, err)
	require.Equal(t, first.ReferenceS3Key, second.ReferenceS3Key)

	require.NoError(t, f.svc.DeleteFloorPlan(ctx, userID, first.ID))
	_, _, err = f.store.Get(ctx, second.ReferenceS3Key)
	require.NoError(t, err, "reference still used by the second plan")
	_, _, err = f.store.Get(ctx, first.GeneratedS3Key)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, f.svc.DeleteFloorPlan(ctx, userID, second.ID))
	_, _, err = f.store.Get(ctx, second.ReferenceS3Key)
	assert.ErrorIs(t, err, types.ErrNotFound, "last plan takes the reference with it")
	assert.Zero(t, f.store.Len())
}

func TestDeleteFolder_DetachesPlans(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()
	folder, err := f.svc.CreateFolder(ctx, userID, "Lofts")
	require.NoError(t, err)
	plan, err := f.svc.SaveFloorPlan(ctx, userID, SaveParams{
		Generated: Image{Data: pngBytes}, Reference: &Image{Data: pngBytes}, FolderID: &folder.ID,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteFolder(ctx, userID, folder.ID))

	got, err := f.svc.GetFloorPlan(ctx, userID, plan.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FolderID)
}

func TestFolderNames(t *testing.T) {
	f := newLibFixture()
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.svc.CreateFolder(ctx, userID, "   ")
	assert.ErrorIs(t, err, types.ErrBadRequest)
	_, err = f.svc.CreateFolder(ctx, userID, strings.Repeat("a", maxFolderNameLength+1))
	assert.ErrorIs(t, err, types.ErrBadRequest)

	folder, err := f.svc.CreateFolder(ctx, userID, "Draft")
	require.NoError(t, err)
	renamed, err := f.svc.RenameFolder(ctx, userID, folder.ID, " Final ")
	require.NoError(t, err)
	assert.Equal(t, "Final", renamed.Name)

	_, err = f.svc.RenameFolder(ctx, uuid.New(), folder.ID, "Stolen")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
