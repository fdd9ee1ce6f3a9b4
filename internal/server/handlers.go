package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/delivery"
	"github.com/maauso/highlight-reel/internal/job"
	"github.com/maauso/highlight-reel/internal/timeline"
	"github.com/maauso/highlight-reel/internal/transition"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.RenderService
	playlists          PlaylistStore
	validator          *validator.Validate
	upgrader           websocket.Upgrader
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateRender only creates the job.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithPlaylists enables the playlist endpoints backed by store.
func WithPlaylists(store PlaylistStore) HandlerOption {
	return func(h *Handlers) {
		h.playlists = store
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.RenderService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by CORSMiddleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateRender handles POST /renders requests.
func (h *Handlers) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input, err := toRenderInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_TRANSITION")
		return
	}

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create render",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create render", "RENDER_CREATION_FAILED")
		return
	}

	// The render outlives the request, so it runs on a detached context.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if _, processErr := h.service.ProcessExistingJob(ctx, jobID); processErr != nil {
				h.logger.Error("background render failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("render created",
		slog.String("job_id", created.ID),
		slog.String("player_id", req.PlayerID),
	)

	w.Header().Set("Location", "/renders/"+created.ID)
	writeJSON(w, http.StatusAccepted, CreateRenderResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetRender handles GET /renders/{id} requests.
func (h *Handlers) GetRender(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.jobError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, toRenderResponse(found))
}

// ListRenders handles GET /renders requests, optionally filtered by the
// player_id and status query parameters.
func (h *Handlers) ListRenders(w http.ResponseWriter, r *http.Request) {
	filter := job.Filter{
		PlayerID: r.URL.Query().Get("player_id"),
		Status:   job.Status(r.URL.Query().Get("status")),
	}
	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list renders", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list renders", "RENDER_FETCH_FAILED")
		return
	}

	resp := ListRendersResponse{Renders: make([]RenderResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Renders = append(resp.Renders, toRenderResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelRender handles DELETE /renders/{id} requests.
func (h *Handlers) CancelRender(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "render already finished", "RENDER_FINISHED")
			return
		}
		h.jobError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRenderResponse(snapshot))
}

// GetOutput handles GET /renders/{id}/output requests. Local outputs are
// streamed; remote ones redirect to their URL.
func (h *Handlers) GetOutput(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	rc, found, err := h.service.OpenOutput(r.Context(), jobID)
	switch {
	case errors.Is(err, job.ErrOutputRemote):
		http.Redirect(w, r, found.OutputLocation, http.StatusFound)
		return
	case errors.Is(err, job.ErrOutputUnavailable):
		writeError(w, http.StatusConflict, "render output is not available", "OUTPUT_NOT_READY")
		return
	case err != nil:
		h.jobError(w, jobID, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", delivery.ContentTypeFor(found.OutputName))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", found.OutputName))
	if found.OutputSize > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(found.OutputSize))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream output",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// jobError maps service errors of a single-job lookup to responses.
func (h *Handlers) jobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "render not found", "RENDER_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get render",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get render", "RENDER_FETCH_FAILED")
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "render ID is required", "MISSING_RENDER_ID")
		return "", false
	}
	return jobID, true
}

func toRenderInput(req CreateRenderRequest) (job.RenderInput, error) {
	input := job.RenderInput{
		PlayerID:   req.PlayerID,
		PlaylistID: req.PlaylistID,
		Order:      req.Order,
	}
	for _, c := range req.Clips {
		input.Clips = append(input.Clips, clip.Descriptor{Name: c.Name, SourceLocation: c.Source})
	}
	for _, t := range req.Transitions {
		kind, err := transition.ParseKind(t.Kind)
		if err != nil {
			return job.RenderInput{}, fmt.Errorf("seam %d: %w", t.Seam, err)
		}
		input.Seams = append(input.Seams, timeline.SeamSetting{SeamIndex: t.Seam, Kind: kind, Duration: t.Duration})
	}
	return input, nil
}

func toRenderResponse(j *job.Job) RenderResponse {
	resp := RenderResponse{
		ID:        j.ID,
		PlayerID:  j.PlayerID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
		ErrorKind: j.ErrorKind,
		CreatedAt: j.CreatedAt,
	}
	if j.Status != job.StatusInQueue {
		resp.Stage = j.Stage.String()
	}
	if j.Status == job.StatusFailed && j.FailedAt >= 0 {
		at := j.FailedAt
		resp.FailedAt = &at
	}
	if j.Status == job.StatusCompleted {
		resp.FileName = j.OutputName
		resp.OutputURL = "/renders/" + j.ID + "/output"
		resp.Size = j.OutputSize
		resp.Duration = j.Duration
		resp.Frames = j.Frames
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
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
