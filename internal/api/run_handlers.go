package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/store"
)

const (
	defaultRunLimit  = 50
	maxRunLimit      = 500
	defaultPageLimit = 100
	maxPageLimit     = 1000
	repoTimeout      = 3 * time.Second
)

// RunHandler exposes read-only run history endpoints.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger. A nil repo is allowed and
// makes every endpoint answer 503.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{repo: repo, timeout: repoTimeout, logger: logger}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset= and returns
// {"runs": [...]}.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := store.ParseRunStatus(strings.ToLower(raw))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{run_id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err), zap.String("run_id", runID.String()))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListPages handles GET /v1/runs/{run_id}/pages?limit=&offset=.
func (h *RunHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pages, err := h.repo.ListPages(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list pages failed", zap.Error(err), zap.String("run_id", runID.String()))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	out := make([]pageDTO, 0, len(pages))
	for _, p := range pages {
		out = append(out, toPageDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

type runDTO struct {
	ID           string     `json:"id"`
	RootURL      string     `json:"root_url"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	PagesDone    int64      `json:"pages_done"`
	PagesFailed  int64      `json:"pages_failed"`
	BytesTotal   int64      `json:"bytes_total"`
}

func toRunDTO(r store.Run) runDTO {
	return runDTO{
		ID:           r.ID.String(),
		RootURL:      r.RootURL,
		Status:       string(r.Status),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		ErrorMessage: r.ErrorMessage,
		PagesDone:    r.PagesDone,
		PagesFailed:  r.PagesFailed,
		BytesTotal:   r.BytesTotal,
	}
}

type pageDTO struct {
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Bytes        int64     `json:"bytes"`
	Attempts     int       `json:"attempts"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func toPageDTO(p store.PageRecord) pageDTO {
	return pageDTO{
		URL:          p.URL,
		Status:       string(p.Status),
		Bytes:        p.Bytes,
		Attempts:     p.Attempts,
		DurationMS:   p.Duration.Milliseconds(),
		ErrorMessage: p.ErrorMessage,
		RecordedAt:   p.At,
	}
}
