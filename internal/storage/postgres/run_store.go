// Package postgres provides the Postgres-backed run history store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/store"
)

// Config controls the Postgres connection pool used for run history.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// RunStore implements store.RunRepository on top of scrape_runs and
// scrape_pages.
type RunStore struct {
	pool querier
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool wraps an existing pool; tests pass a pgxmock pool.
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const startRunSQL = `
	INSERT INTO scrape_runs (id, root_url, started_at, status)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING;
`

// StartRun records a running run.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, rootURL string, startedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, startRunSQL, runID, rootURL, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const completeRunSQL = `
	UPDATE scrape_runs
	SET finished_at = $1, status = $2, error_message = $3
	WHERE id = $4;
`

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	tag, err := s.pool.Exec(ctx, completeRunSQL, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const upsertPageSQL = `
	INSERT INTO scrape_pages (run_id, url, status, bytes, attempts, duration_ms, error_message, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (run_id, url) DO UPDATE
	SET status = EXCLUDED.status,
		bytes = EXCLUDED.bytes,
		attempts = EXCLUDED.attempts,
		duration_ms = EXCLUDED.duration_ms,
		error_message = EXCLUDED.error_message,
		recorded_at = EXCLUDED.recorded_at;
`

const bumpRunSQL = `
	UPDATE scrape_runs
	SET pages_done = pages_done + $1,
		pages_failed = pages_failed + $2,
		bytes_total = bytes_total + $3
	WHERE id = $4;
`

type runDelta struct {
	done   int64
	failed int64
	bytes  int64
}

// RecordPages upserts every page and adds the per-run deltas in a single
// transaction.
func (s *RunStore) RecordPages(ctx context.Context, pages []store.PageRecord) (err error) {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin page batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	order := make([]uuid.UUID, 0, 1)
	deltas := make(map[uuid.UUID]*runDelta)
	for _, p := range pages {
		if _, err = tx.Exec(ctx, upsertPageSQL,
			p.RunID,
			p.URL,
			string(p.Status),
			p.Bytes,
			p.Attempts,
			p.Duration.Milliseconds(),
			p.ErrorMessage,
			p.At,
		); err != nil {
			return fmt.Errorf("upsert page %s: %w", p.URL, err)
		}
		d := deltas[p.RunID]
		if d == nil {
			d = &runDelta{}
			deltas[p.RunID] = d
			order = append(order, p.RunID)
		}
		if p.Status == store.PageFailed {
			d.failed++
		} else {
			d.done++
			d.bytes += p.Bytes
		}
	}
	for _, id := range order {
		d := deltas[id]
		if _, err = tx.Exec(ctx, bumpRunSQL, d.done, d.failed, d.bytes, id); err != nil {
			return fmt.Errorf("update run counters: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit page batch: %w", err)
	}
	return nil
}

const runColumns = `id, root_url, started_at, finished_at, status, error_message, pages_done, pages_failed, bytes_total`

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.RootURL,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
		&run.PagesDone,
		&run.PagesFailed,
		&run.BytesTotal,
	)
	run.Status = store.RunStatus(status)
	return run, err
}

// GetRun loads a single run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM scrape_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListPages returns page outcomes for one run in URL order.
func (s *RunStore) ListPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.PageRecord, error) {
	query := `
		SELECT run_id, url, status, bytes, attempts, duration_ms, error_message, recorded_at
		FROM scrape_pages
		WHERE run_id = $1
		ORDER BY url
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []store.PageRecord
	for rows.Next() {
		var (
			p          store.PageRecord
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&p.RunID,
			&p.URL,
			&status,
			&p.Bytes,
			&p.Attempts,
			&durationMS,
			&p.ErrorMessage,
			&p.At,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.Status = store.PageStatus(status)
		p.Duration = time.Duration(durationMS) * time.Millisecond
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
