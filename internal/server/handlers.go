package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/vidmerge/internal/history"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/merge"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/mergeopts"
	"github.com/maauso/vidmerge/internal/metadata"
	"github.com/maauso/vidmerge/internal/thumbnail"
)

// MergeService is the asynchronous merge API used by the handlers.
type MergeService interface {
	Submit(ctx context.Context, in merge.SubmitInput) (*history.Record, error)
	Get(ctx context.Context, id string) (*history.Record, error)
	List(ctx context.Context) ([]*history.Record, error)
}

// MetadataExtractor reports metadata keyed by raw input.
type MetadataExtractor interface {
	ExtractRaw(ctx context.Context, raw []string) (map[string]metadata.Metadata, error)
}

// ThumbnailGenerator writes a still frame of a video.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, ref mediaref.Reference, req thumbnail.Request) (thumbnail.Result, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	merges     MergeService
	metadata   MetadataExtractor
	thumbnails ThumbnailGenerator
	backend    string
	validator  *validator.Validate
	logger     *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithBackendName reports the configured merge backend on /health.
func WithBackendName(name string) HandlerOption {
	return func(h *Handlers) {
		h.backend = name
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(merges MergeService, meta MetadataExtractor, thumbs ThumbnailGenerator, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		merges:     merges,
		metadata:   meta,
		thumbnails: thumbs,
		validator:  validator.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Backend: h.backend})
}

// CreateMerge handles POST /merges requests. The merge runs in the
// background; poll GET /merges/{id} for its outcome.
func (h *Handlers) CreateMerge(w http.ResponseWriter, r *http.Request) {
	var req CreateMergeRequest
	if !h.decode(w, r, &req) {
		return
	}

	partial, err := mergeopts.ParsePartial(req.Options)
	if err != nil {
		h.writeMergeError(w, err)
		return
	}

	rec, err := h.merges.Submit(r.Context(), merge.SubmitInput{
		Inputs:   req.Inputs,
		Options:  partial,
		PushToS3: req.PushToS3,
	})
	if err != nil {
		if errors.Is(err, merge.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
			return
		}
		h.logger.Error("failed to submit merge",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit merge", "MERGE_SUBMIT_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, CreateMergeResponse{
		ID:    rec.ID,
		State: rec.State,
	})
}

// GetMerge handles GET /merges/{id} requests.
func (h *Handlers) GetMerge(w http.ResponseWriter, r *http.Request) {
	mergeID := r.PathValue("id")
	if mergeID == "" {
		writeError(w, http.StatusBadRequest, "merge ID is required", "MISSING_MERGE_ID")
		return
	}

	rec, err := h.merges.Get(r.Context(), mergeID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "merge not found", "MERGE_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get merge",
			slog.String("merge_id", mergeID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get merge", "MERGE_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toMergeResponse(rec))
}

// ListMerges handles GET /merges requests.
func (h *Handlers) ListMerges(w http.ResponseWriter, r *http.Request) {
	recs, err := h.merges.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list merges",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list merges", "MERGE_FETCH_FAILED")
		return
	}

	resp := ListMergesResponse{Merges: make([]MergeResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Merges = append(resp.Merges, toMergeResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Metadata handles POST /metadata requests.
func (h *Handlers) Metadata(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.metadata.ExtractRaw(r.Context(), req.Inputs)
	if err != nil {
		h.writeMergeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MetadataResponse{Metadata: out})
}

// Thumbnail handles POST /thumbnails requests.
func (h *Handlers) Thumbnail(w http.ResponseWriter, r *http.Request) {
	var req ThumbnailRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref, err := mediaref.Sanitize(req.Input)
	if err != nil {
		h.writeMergeError(w, err)
		return
	}
	var dir string
	if req.WriteDirectory != "" {
		dir, err = mergeopts.ResolveDirectory(req.WriteDirectory)
		if err != nil {
			h.writeMergeError(w, err)
			return
		}
	}

	res, err := h.thumbnails.Generate(r.Context(), ref, thumbnail.Request{
		Dir:              dir,
		Name:             req.FileName,
		TimestampSeconds: req.TimestampSeconds,
	})
	if err != nil {
		h.writeMergeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ThumbnailResponse{
		OutputReference: res.Output.String(),
		Width:           res.Width,
		Height:          res.Height,
		Hash:            res.Hash,
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeMergeError maps a merge error kind to an HTTP status.
func (h *Handlers) writeMergeError(w http.ResponseWriter, err error) {
	kind := mergeerr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, err.Error(), string(kind))
}

func statusFor(kind mergeerr.Kind) int {
	switch kind {
	case mergeerr.KindInvalidInput, mergeerr.KindInvalidOptions:
		return http.StatusBadRequest
	case mergeerr.KindUnreadableSource, mergeerr.KindMissingTrack:
		return http.StatusUnprocessableEntity
	case mergeerr.KindExportCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toMergeResponse(rec *history.Record) MergeResponse {
	resp := MergeResponse{
		ID:              rec.ID,
		ActionKey:       rec.ActionKey,
		Backend:         rec.Backend,
		Inputs:          rec.Inputs,
		State:           rec.State,
		Progress:        int(math.Round(rec.Progress * 100)),
		OutputReference: rec.Output,
		DurationSeconds: rec.DurationSeconds,
		S3URL:           rec.S3URL,
		ErrorKind:       rec.ErrorKind,
		Error:           rec.Error,
		UploadError:     rec.UploadError,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if resp.Inputs == nil {
		resp.Inputs = []string{}
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
