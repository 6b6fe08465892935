package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

const maxFolderNameLength = 120

var _ Service = (*ServiceImpl)(nil)

// Image is an uploaded file as received from a multipart form.
type Image struct {
	Data []byte
	// ContentType is the client-declared type; the service sniffs the bytes regardless.
	ContentType string
}

// SaveParams describes the save-to-library step that follows a generation.
type SaveParams struct {
	types.StagingOptions
	Generated Image
	// ReferenceKey names an already uploaded reference. Reference is used when it is empty.
	ReferenceKey string
	Reference    *Image
	FolderID     *uuid.UUID
}

type Service interface {
	Upload(ctx context.Context, userID uuid.UUID, img Image) (*types.Upload, error)
	SaveFloorPlan(ctx context.Context, userID uuid.UUID, params SaveParams) (*types.FloorPlan, error)
	ListFloorPlans(ctx context.Context, userID uuid.UUID, filter types.FloorPlanFilter) ([]types.FloorPlan, error)
	GetFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*types.FloorPlan, error)
	UpdateFloorPlan(ctx context.Context, userID, planID uuid.UUID, params types.UpdateFloorPlanParams) (*types.FloorPlan, error)
	DeleteFloorPlan(ctx context.Context, userID, planID uuid.UUID) error

	CreateFolder(ctx context.Context, userID uuid.UUID, name string) (*types.Folder, error)
	ListFolders(ctx context.Context, userID uuid.UUID) ([]types.Folder, error)
	RenameFolder(ctx context.Context, userID, folderID uuid.UUID, name string) (*types.Folder, error)
	DeleteFolder(ctx context.Context, userID, folderID uuid.UUID) error
}

type ServiceImpl struct {
	logger         *slog.Logger
	repo           Repository
	store          storage.ObjectStore
	maxUploadBytes int64
}

func NewService(repo Repository, store storage.ObjectStore, maxUploadBytes int64, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:         logger,
		repo:           repo,
		store:          store,
		maxUploadBytes: maxUploadBytes,
	}
}

func startServiceSpan(ctx context.Context, name string, userID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer("LibraryService").Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID.String()),
	))
}

// sniff validates an image by its bytes and returns the media type and key extension.
func (s *ServiceImpl) sniff(img Image) (string, string, error) {
	if len(img.Data) == 0 {
		return "", "", fmt.Errorf("%w: file is empty", types.ErrBadRequest)
	}
	if s.maxUploadBytes > 0 && int64(len(img.Data)) > s.maxUploadBytes {
		return "", "", fmt.Errorf("%w: file exceeds %d bytes", types.ErrBadRequest, s.maxUploadBytes)
	}
	mediaType := http.DetectContentType(img.Data)
	ext, ok := storage.ExtensionFor(mediaType)
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported image type %q", types.ErrBadRequest, mediaType)
	}
	return mediaType, ext, nil
}

func (s *ServiceImpl) Upload(ctx context.Context, userID uuid.UUID, img Image) (*types.Upload, error) {
	ctx, span := startServiceSpan(ctx, "Upload", userID)
	defer span.End()
	l := s.logger.With(slog.String("method", "Upload"), slog.String("user_id", userID.String()))

	mediaType, ext, err := s.sniff(img)
	if err != nil {
		return nil, err
	}

	key := storage.ReferenceKey(userID, ext)
	if err := s.store.Put(ctx, key, img.Data, mediaType); err != nil {
		l.ErrorContext(ctx, "Failed to store reference image", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	url, err := s.store.PresignGet(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	l.InfoContext(ctx, "Reference image uploaded", slog.String("key", key), slog.Int("bytes", len(img.Data)))
	return &types.Upload{Key: key, URL: url}, nil
}

type pendingObject struct {
	key       string
	data      []byte
	mediaType string
}

func (s *ServiceImpl) SaveFloorPlan(ctx context.Context, userID uuid.UUID, params SaveParams) (*types.FloorPlan, error) {
	ctx, span := startServiceSpan(ctx, "SaveFloorPlan", userID)
	defer span.End()
	l := s.logger.With(slog.String("method", "SaveFloorPlan"), slog.String("user_id", userID.String()))

	genType, genExt, err := s.sniff(params.Generated)
	if err != nil {
		return nil, err
	}
	pending := []pendingObject{{key: storage.GeneratedKey(userID, genExt), data: params.Generated.Data, mediaType: genType}}

	referenceKey := strings.TrimSpace(params.ReferenceKey)
	switch {
	case referenceKey != "":
		if !storage.OwnedBy(referenceKey, userID) {
			return nil, fmt.Errorf("%w: reference image does not belong to the caller", types.ErrForbidden)
		}
	case params.Reference != nil:
		refType, refExt, err := s.sniff(*params.Reference)
		if err != nil {
			return nil, err
		}
		referenceKey = storage.ReferenceKey(userID, refExt)
		pending = append(pending, pendingObject{key: referenceKey, data: params.Reference.Data, mediaType: refType})
	default:
		return nil, fmt.Errorf("%w: a reference image or referenceKey is required", types.ErrBadRequest)
	}

	if params.FolderID != nil {
		if _, err := s.repo.GetFolder(ctx, userID, *params.FolderID); err != nil {
			return nil, err
		}
	}

	g, childCtx := errgroup.WithContext(ctx)
	for _, obj := range pending {
		g.Go(func() error {
			return s.store.Put(childCtx, obj.key, obj.data, obj.mediaType)
		})
	}
	if err := g.Wait(); err != nil {
		l.ErrorContext(ctx, "Failed to store floor plan images", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		s.cleanup(ctx, pending)
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}

	plan, err := s.repo.CreateFloorPlan(ctx, userID, types.CreateFloorPlanParams{
		StagingOptions: params.StagingOptions,
		ReferenceS3Key: referenceKey,
		GeneratedS3Key: pending[0].key,
		FolderID:       params.FolderID,
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to record floor plan", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		s.cleanup(ctx, pending)
		return nil, fmt.Errorf("%w: %w", types.ErrPersistenceFailed, err)
	}

	s.presign(ctx, plan)
	l.InfoContext(ctx, "Floor plan saved", slog.String("plan_id", plan.ID.String()))
	span.SetStatus(codes.Ok, "saved")
	return plan, nil
}

// cleanup removes objects written for a save that did not complete. Best effort.
func (s *ServiceImpl) cleanup(ctx context.Context, objects []pendingObject) {
	ctx = context.WithoutCancel(ctx)
	for _, obj := range objects {
		if err := s.store.Delete(ctx, obj.key); err != nil {
			s.logger.WarnContext(ctx, "Failed to remove orphaned object", slog.String("key", obj.key), slog.Any("error", err))
		}
	}
}

// presign fills the download URLs. A signing failure leaves the URL empty instead of failing the read.
func (s *ServiceImpl) presign(ctx context.Context, plan *types.FloorPlan) {
	var err error
	if plan.ReferenceURL, err = s.store.PresignGet(ctx, plan.ReferenceS3Key); err != nil {
		s.logger.WarnContext(ctx, "Failed to presign reference image", slog.String("key", plan.ReferenceS3Key), slog.Any("error", err))
	}
	if plan.GeneratedURL, err = s.store.PresignGet(ctx, plan.GeneratedS3Key); err != nil {
		s.logger.WarnContext(ctx, "Failed to presign generated image", slog.String("key", plan.GeneratedS3Key), slog.Any("error", err))
	}
}

func (s *ServiceImpl) ListFloorPlans(ctx context.Context, userID uuid.UUID, filter types.FloorPlanFilter) ([]types.FloorPlan, error) {
	ctx, span := startServiceSpan(ctx, "ListFloorPlans", userID)
	defer span.End()

	plans, err := s.repo.ListFloorPlans(ctx, userID, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i := range plans {
		s.presign(ctx, &plans[i])
	}
	return plans, nil
}

func (s *ServiceImpl) GetFloorPlan(ctx context.Context, userID, planID uuid.UUID) (*types.FloorPlan, error) {
	ctx, span := startServiceSpan(ctx, "GetFloorPlan", userID)
	defer span.End()

	plan, err := s.repo.GetFloorPlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	s.presign(ctx, plan)
	return plan, nil
}

func (s *ServiceImpl) UpdateFloorPlan(ctx context.Context, userID, planID uuid.UUID, params types.UpdateFloorPlanParams) (*types.FloorPlan, error) {
	ctx, span := startServiceSpan(ctx, "UpdateFloorPlan", userID)
	defer span.End()

	if params.ClearFolder && params.FolderID != nil {
		return nil, fmt.Errorf("%w: folderId and clearFolder are mutually exclusive", types.ErrBadRequest)
	}
	if params.FolderID != nil {
		if _, err := s.repo.GetFolder(ctx, userID, *params.FolderID); err != nil {
			return nil, err
		}
	}

	plan, err := s.repo.UpdateFloorPlan(ctx, userID, planID, params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.presign(ctx, plan)
	return plan, nil
}

func (s *ServiceImpl) DeleteFloorPlan(ctx context.Context, userID, planID uuid.UUID) error {
	ctx, span := startServiceSpan(ctx, "DeleteFloorPlan", userID)
	defer span.End()
	l := s.logger.With(slog.String("method", "DeleteFloorPlan"), slog.String("plan_id", planID.String()))

	plan, err := s.repo.DeleteFloorPlan(ctx, userID, planID)
	if err != nil {
		return err
	}

	// The row is gone; object removal failures only leave orphans behind.
	keys := []string{plan.GeneratedS3Key}
	if plan.ReferenceShared {
		l.DebugContext(ctx, "Keeping reference image used by other floor plans", slog.String("key", plan.ReferenceS3Key))
	} else {
		keys = append(keys, plan.ReferenceS3Key)
	}
	g, childCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, key := range keys {
		g.Go(func() error {
			if err := s.store.Delete(childCtx, key); err != nil && !errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.WarnContext(ctx, "Failed to delete floor plan objects", slog.Any("error", err))
	}

	l.InfoContext(ctx, "Floor plan deleted")
	return nil
}

func normalizeFolderName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: folder name is required", types.ErrBadRequest)
	}
	if len([]rune(name)) > maxFolderNameLength {
		return "", fmt.Errorf("%w: folder name exceeds %d characters", types.ErrBadRequest, maxFolderNameLength)
	}
	return name, nil
}

func (s *ServiceImpl) CreateFolder(ctx context.Context, userID uuid.UUID, name string) (*types.Folder, error) {
	ctx, span := startServiceSpan(ctx, "CreateFolder", userID)
	defer span.End()

	name, err := normalizeFolderName(name)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateFolder(ctx, userID, name)
}

func (s *ServiceImpl) ListFolders(ctx context.Context, userID uuid.UUID) ([]types.Folder, error) {
	ctx, span := startServiceSpan(ctx, "ListFolders", userID)
	defer span.End()

	return s.repo.ListFolders(ctx, userID)
}

func (s *ServiceImpl) RenameFolder(ctx context.Context, userID, folderID uuid.UUID, name string) (*types.Folder, error) {
	ctx, span := startServiceSpan(ctx, "RenameFolder", userID)
	defer span.End()

	name, err := normalizeFolderName(name)
	if err != nil {
		return nil, err
	}
	return s.repo.RenameFolder(ctx, userID, folderID, name)
}

func (s *ServiceImpl) DeleteFolder(ctx context.Context, userID, folderID uuid.UUID) error {
	ctx, span := startServiceSpan(ctx, "DeleteFolder", userID)
	defer span.End()

	if err := s.repo.DeleteFolder(ctx, userID, folderID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Folder deleted", slog.String("folder_id", folderID.String()))
	return nil
}
