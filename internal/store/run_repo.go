package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the scrape_runs.status column.
type RunStatus string

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ParseRunStatus validates a status filter supplied by a caller.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunError:
		return RunStatus(s), nil
	default:
		return "", errors.New("status must be one of running, success, error")
	}
}

// PageStatus mirrors the scrape_pages.status column.
type PageStatus string

// Page outcomes.
const (
	PageRendered PageStatus = "rendered"
	PageFailed   PageStatus = "failed"
)

// Run is one invocation of the scraper.
type Run struct {
	ID      uuid.UUID
	RootURL string
	// StartedAt is when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success or error.
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
	PagesDone    int64
	PagesFailed  int64
	BytesTotal   int64
}

// PageRecord is the outcome of rendering one URL within a run.
type PageRecord struct {
	RunID        uuid.UUID
	URL          string
	Status       PageStatus
	Bytes        int64
	Attempts     int
	Duration     time.Duration
	ErrorMessage *string
	At           time.Time
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun inserts the run row, or leaves it untouched when it already exists.
	StartRun(ctx context.Context, runID uuid.UUID, rootURL string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// RecordPages upserts page outcomes and rolls their counts into the run row.
	RecordPages(ctx context.Context, pages []PageRecord) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by an optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListPages returns the page outcomes recorded for one run.
	ListPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]PageRecord, error)
}
