package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/api"
	"github.com/maytees/homifyai-sub000/pkg/interceptors"
)

// multipartOverhead leaves room for form fields on top of the image payloads.
const multipartOverhead = 1 << 20

type Handler struct {
	svc            Service
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewHandler(svc Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	return &Handler{
		svc:            svc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes mounts the library endpoints. The caller is expected to wrap them in the auth interceptor.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/uploads", h.Upload)

	r.Route("/floor-plans", func(r chi.Router) {
		r.Post("/", h.SaveFloorPlan)
		r.Get("/", h.ListFloorPlans)
		r.Get("/{id}", h.GetFloorPlan)
		r.Patch("/{id}", h.UpdateFloorPlan)
		r.Delete("/{id}", h.DeleteFloorPlan)
	})

	r.Route("/folders", func(r chi.Router) {
		r.Post("/", h.CreateFolder)
		r.Get("/", h.ListFolders)
		r.Patch("/{id}", h.RenameFolder)
		r.Delete("/{id}", h.DeleteFolder)
	})
}

func startHandlerSpan(r *http.Request, name, route string) (context.Context, trace.Span) {
	return otel.Tracer("LibraryHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(route),
	))
}

func userID(ctx context.Context) (uuid.UUID, error) {
	session := interceptors.SessionFromContext(ctx)
	if session == nil {
		return uuid.Nil, types.ErrUnauthenticated
	}
	return session.UserID, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", types.ErrBadRequest)
	}
	return id, nil
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request, files int) error {
	r.Body = http.MaxBytesReader(w, r.Body, int64(files)*h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request exceeds %d bytes", types.ErrBadRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid multipart form: %v", types.ErrBadRequest, err)
	}
	return nil
}

// readFile returns nil when the form has no part with that name.
func readFile(r *http.Request, field string) (*Image, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrBadRequest, field, err)
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s", types.ErrBadRequest, field)
	}
	return &Image{Data: data, ContentType: header.Header.Get("Content-Type")}, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func optionalUUID(v, field string) (*uuid.UUID, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", types.ErrBadRequest, field)
	}
	return &id, nil
}

func optionalBool(v, field string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s", types.ErrBadRequest, field)
	}
	return &b, nil
}

func optionalUint(v, field string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", types.ErrBadRequest, field)
	}
	return n, nil
}

// Upload handles POST /uploads.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "Upload", "/uploads")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := h.parseMultipart(w, r, 1); err != nil {
		api.WriteError(w, r, err)
		return
	}
	img, err := readFile(r, "file")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if img == nil {
		api.WriteError(w, r, fmt.Errorf("%w: file is required", types.ErrBadRequest))
		return
	}

	upload, err := h.svc.Upload(ctx, uid, *img)
	if err != nil {
		span.RecordError(err)
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, upload)
}

// SaveFloorPlan handles POST /floor-plans.
func (h *Handler) SaveFloorPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "SaveFloorPlan", "/floor-plans")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := h.parseMultipart(w, r, 2); err != nil {
		api.WriteError(w, r, err)
		return
	}

	generated, err := readFile(r, "file")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if generated == nil {
		api.WriteError(w, r, fmt.Errorf("%w: file is required", types.ErrBadRequest))
		return
	}
	reference, err := readFile(r, "reference")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	folderID, err := optionalUUID(r.FormValue("folderId"), "folderId")
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	plan, err := h.svc.SaveFloorPlan(ctx, uid, SaveParams{
		StagingOptions: types.StagingOptions{
			StagingStyle:      strings.TrimSpace(r.FormValue("stagingStyle")),
			FurnishingDensity: strings.TrimSpace(r.FormValue("furnishingDensity")),
			ColorTone:         strings.TrimSpace(r.FormValue("colorTone")),
			Angle:             strings.TrimSpace(r.FormValue("angle")),
			AdditionalNotes:   optionalString(r.FormValue("additionalNotes")),
		},
		Generated:    *generated,
		ReferenceKey: r.FormValue("referenceKey"),
		Reference:    reference,
		FolderID:     folderID,
	})
	if err != nil {
		span.RecordError(err)
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, plan)
}

// ListFloorPlans handles GET /floor-plans.
func (h *Handler) ListFloorPlans(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "ListFloorPlans", "/floor-plans")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	var filter types.FloorPlanFilter
	var errs []error
	var e error
	filter.FolderID, e = optionalUUID(q.Get("folderId"), "folderId")
	errs = append(errs, e)
	filter.IsFavorite, e = optionalBool(q.Get("favorite"), "favorite")
	errs = append(errs, e)
	filter.IsArchived, e = optionalBool(q.Get("archived"), "archived")
	errs = append(errs, e)
	filter.Limit, e = optionalUint(q.Get("limit"), "limit")
	errs = append(errs, e)
	filter.Offset, e = optionalUint(q.Get("offset"), "offset")
	errs = append(errs, e)
	if err := errors.Join(errs...); err != nil {
		api.WriteError(w, r, err)
		return
	}

	plans, err := h.svc.ListFloorPlans(ctx, uid, filter)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"floorPlans": plans})
}

// GetFloorPlan handles GET /floor-plans/{id}.
func (h *Handler) GetFloorPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "GetFloorPlan", "/floor-plans/{id}")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	plan, err := h.svc.GetFloorPlan(ctx, uid, id)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, plan)
}

// UpdateFloorPlan handles PATCH /floor-plans/{id}.
func (h *Handler) UpdateFloorPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "UpdateFloorPlan", "/floor-plans/{id}")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var params types.UpdateFloorPlanParams
	if err := api.DecodeJSON(r, &params); err != nil {
		api.WriteError(w, r, err)
		return
	}

	plan, err := h.svc.UpdateFloorPlan(ctx, uid, id, params)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, plan)
}

// DeleteFloorPlan handles DELETE /floor-plans/{id}.
func (h *Handler) DeleteFloorPlan(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "DeleteFloorPlan", "/floor-plans/{id}")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	if err := h.svc.DeleteFloorPlan(ctx, uid, id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateFolder handles POST /folders.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "CreateFolder", "/folders")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req types.CreateFolderRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}

	folder, err := h.svc.CreateFolder(ctx, uid, req.Name)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, folder)
}

// ListFolders handles GET /folders.
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "ListFolders", "/folders")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	folders, err := h.svc.ListFolders(ctx, uid)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{"folders": folders})
}

// RenameFolder handles PATCH /folders/{id}.
func (h *Handler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "RenameFolder", "/folders/{id}")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var req types.RenameFolderRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}

	folder, err := h.svc.RenameFolder(ctx, uid, id, req.Name)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, folder)
}

// DeleteFolder handles DELETE /folders/{id}.
func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	ctx, span := startHandlerSpan(r, "DeleteFolder", "/folders/{id}")
	defer span.End()

	uid, err := userID(ctx)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	if err := h.svc.DeleteFolder(ctx, uid, id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
