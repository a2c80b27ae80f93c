// Package scraper runs one documentation export: discover the pages under a
// root URL, print each one to PDF on the browser pool, merge the pages in
// discovery order and publish the result.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/clock"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/hash/sha256"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/id"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/render"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/storage"
)

var (
	// ErrNoPages is returned when discovery finds nothing to render.
	ErrNoPages = errors.New("no pages discovered")
	// ErrNothingRendered is returned when every page failed to render.
	ErrNothingRendered = errors.New("no pages rendered")
)

const poolCloseTimeout = 30 * time.Second

// Pool is the lifecycle subset of *browserpool.Pool a run drives.
type Pool interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context)
}

// Discoverer lists the pages of a documentation site in reading order.
type Discoverer interface {
	Discover(ctx context.Context, rootURL string) ([]string, error)
}

// Renderer prints one page to PDF.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (render.Page, error)
}

// Merger concatenates page PDFs into one document.
type Merger interface {
	Merge(ctx context.Context, inputs []string, output string) error
}

// Deps are the collaborators a Scraper drives. Merger may be nil when
// merging is disabled. Progress, Clock and IDs have working defaults.
type Deps struct {
	Pool       Pool
	Discoverer Discoverer
	Renderer   Renderer
	Merger     Merger
	Store      storage.BlobStore
	Progress   progress.Emitter
	Clock      clock.Clock
	IDs        id.Generator
	Logger     *zap.Logger
}

// Options configure one run.
type Options struct {
	RootURL string
	// Workers is the number of concurrent renderers, normally the pool
	// capacity.
	Workers int
	// BatchInterval separates consecutive renders on one worker.
	BatchInterval time.Duration
	// InitRetry wraps pool initialization.
	InitRetry retry.Options
	// Merge produces a single document; otherwise every page is published.
	Merge bool
	// Prefix is prepended to every object key.
	Prefix   string
	FileName string
	// KeepPages also publishes the individual page PDFs.
	KeepPages bool
	// WorkDir holds page PDFs during the run; empty uses a temp dir that is
	// removed afterwards.
	WorkDir string
}

// Result summarizes a run.
type Result struct {
	RunID       uuid.UUID
	Discovered  int
	Rendered    int
	Failed      int
	Bytes       int64
	DocumentURI string
	// Checksum is the hex SHA-256 of the merged document.
	Checksum string
	PageURIs []string
	Duration time.Duration
}

// Scraper executes runs.
type Scraper struct {
	deps   Deps
	opts   Options
	hasher *sha256.Hasher
}

// New validates deps and opts.
func New(deps Deps, opts Options) (*Scraper, error) {
	switch {
	case deps.Pool == nil:
		return nil, errors.New("pool is required")
	case deps.Discoverer == nil:
		return nil, errors.New("discoverer is required")
	case deps.Renderer == nil:
		return nil, errors.New("renderer is required")
	case deps.Store == nil:
		return nil, errors.New("blob store is required")
	case opts.Merge && deps.Merger == nil:
		return nil, errors.New("merger is required when merging is enabled")
	case opts.RootURL == "":
		return nil, errors.New("root url is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.IDs == nil {
		deps.IDs = id.V7{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FileName == "" {
		opts.FileName = "docs.pdf"
	}
	return &Scraper{deps: deps, opts: opts, hasher: sha256.New()}, nil
}

// pageOutcome is one URL's slot, indexed by discovery order.
type pageOutcome struct {
	path string
	err  error
}

// Run performs one export. Page failures are counted, not fatal; the run
// fails when discovery is empty, nothing renders, or publishing fails. The
// pool is closed before Run returns.
func (s *Scraper) Run(ctx context.Context) (res Result, err error) {
	res.RunID, err = s.deps.IDs.NewRunID()
	if err != nil {
		s.closePool(ctx)
		return res, fmt.Errorf("run id: %w", err)
	}
	start := s.deps.Clock.Now()
	logger := s.deps.Logger.With(zap.String("run_id", res.RunID.String()), zap.String("root_url", s.opts.RootURL))

	s.emit(progress.Event{RunID: res.RunID, Stage: progress.StageRunStart, URL: s.opts.RootURL})
	defer func() {
		s.closePool(ctx)

		res.Duration = s.deps.Clock.Now().Sub(start)
		evt := progress.Event{
			RunID: res.RunID,
			URL:   s.opts.RootURL,
			Pages: res.Rendered,
			Bytes: res.Bytes,
			Dur:   res.Duration,
		}
		if err != nil {
			evt.Stage, evt.Note = progress.StageRunError, err.Error()
			logger.Error("run failed", zap.Error(err), zap.Int("rendered", res.Rendered), zap.Int("failed", res.Failed))
		} else {
			evt.Stage, evt.Note = progress.StageRunDone, res.DocumentURI
			logger.Info("run finished",
				zap.Int("rendered", res.Rendered),
				zap.Int("failed", res.Failed),
				zap.Int64("bytes", res.Bytes),
				zap.String("document", res.DocumentURI),
				zap.String("sha256", res.Checksum),
				zap.Duration("duration", res.Duration),
			)
		}
		s.emit(evt)
	}()

	if err := retry.Do(ctx, s.deps.Pool.Initialize, s.opts.InitRetry); err != nil {
		return res, fmt.Errorf("initialize browser pool: %w", err)
	}

	urls, err := s.deps.Discoverer.Discover(ctx, s.opts.RootURL)
	if err != nil {
		return res, fmt.Errorf("discover: %w", err)
	}
	res.Discovered = len(urls)
	if len(urls) == 0 {
		return res, ErrNoPages
	}
	s.emit(progress.Event{RunID: res.RunID, Stage: progress.StageRunDiscovered, URL: s.opts.RootURL, Pages: len(urls)})
	logger.Info("pages discovered", zap.Int("count", len(urls)))

	workDir, cleanup, err := s.workDir(res.RunID)
	if err != nil {
		return res, err
	}
	defer cleanup()

	outcomes, err := s.renderAll(ctx, res.RunID, urls, workDir)
	if err != nil {
		return res, err
	}
	paths := make([]string, 0, len(outcomes))
	for i, o := range outcomes {
		if o.err != nil {
			res.Failed++
			logger.Warn("page skipped", zap.String("url", urls[i]), zap.Error(o.err))
			continue
		}
		res.Rendered++
		paths = append(paths, o.path)
	}
	if res.Rendered == 0 {
		return res, ErrNothingRendered
	}

	if err := s.publish(ctx, &res, workDir, paths); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Scraper) renderAll(ctx context.Context, runID uuid.UUID, urls []string, workDir string) ([]pageOutcome, error) {
	outcomes := make([]pageOutcome, len(urls))
	workers := min(s.opts.Workers, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		var indexes []int
		for i := w; i < len(urls); i += workers {
			indexes = append(indexes, i)
		}
		g.Go(func() error {
			tasks := make([]retry.Task[pageOutcome], len(indexes))
			for j, idx := range indexes {
				tasks[j] = func(ctx context.Context) (pageOutcome, error) {
					return s.renderPage(ctx, runID, urls[idx], pagePath(workDir, idx))
				}
			}
			for j, r := range retry.BatchDelay(gctx, tasks, s.opts.BatchInterval) {
				out := r.Value
				out.err = r.Err
				outcomes[indexes[j]] = out
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	return outcomes, nil
}

func (s *Scraper) renderPage(ctx context.Context, runID uuid.UUID, rawURL, path string) (pageOutcome, error) {
	s.emit(progress.Event{RunID: runID, Stage: progress.StagePageStart, URL: rawURL})

	page, err := s.deps.Renderer.Render(ctx, rawURL)
	if err == nil {
		err = os.WriteFile(path, page.PDF, 0o600)
	}
	evt := progress.Event{
		RunID:      runID,
		URL:        rawURL,
		Attempts:   page.Attempts,
		StatusCode: page.StatusCode,
		Dur:        page.Duration,
	}
	if err != nil {
		evt.Stage, evt.Note = progress.StagePageError, err.Error()
		s.emit(evt)
		return pageOutcome{}, err
	}
	evt.Stage, evt.Bytes, evt.Note = progress.StagePageDone, int64(len(page.PDF)), page.Title
	s.emit(evt)
	return pageOutcome{path: path}, nil
}

func (s *Scraper) publish(ctx context.Context, res *Result, workDir string, paths []string) error {
	runKey := res.RunID.String()
	if s.opts.Merge {
		merged := filepath.Join(workDir, s.opts.FileName)
		if err := s.deps.Merger.Merge(ctx, paths, merged); err != nil {
			return fmt.Errorf("merge pages: %w", err)
		}
		checksum, _, err := s.hasher.HashFile(merged)
		if err != nil {
			return fmt.Errorf("checksum merged document: %w", err)
		}
		uri, size, err := s.upload(ctx, merged, storage.ObjectKey(s.opts.Prefix, runKey, s.opts.FileName))
		if err != nil {
			return err
		}
		res.DocumentURI, res.Bytes, res.Checksum = uri, size, checksum
	}
	if !s.opts.Merge || s.opts.KeepPages {
		var total int64
		for _, p := range paths {
			uri, size, err := s.upload(ctx, p, storage.ObjectKey(s.opts.Prefix, runKey, "pages", filepath.Base(p)))
			if err != nil {
				return err
			}
			res.PageURIs = append(res.PageURIs, uri)
			total += size
		}
		if !s.opts.Merge {
			res.Bytes = total
		}
	}
	return nil
}

func (s *Scraper) upload(ctx context.Context, path, key string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", path, err)
	}
	uri, err := s.deps.Store.PutObject(ctx, key, storage.ContentTypePDF, f)
	if err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return uri, info.Size(), nil
}

func (s *Scraper) workDir(runID uuid.UUID) (string, func(), error) {
	if s.opts.WorkDir == "" {
		dir, err := os.MkdirTemp("", "scraper-"+runID.String()+"-")
		if err != nil {
			return "", nil, fmt.Errorf("create work dir: %w", err)
		}
		return dir, func() { _ = os.RemoveAll(dir) }, nil
	}
	dir := filepath.Join(s.opts.WorkDir, runID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() {}, nil
}

func (s *Scraper) closePool(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), poolCloseTimeout)
	defer cancel()
	s.deps.Pool.Close(closeCtx)
}

func (s *Scraper) emit(evt progress.Event) {
	evt.TS = s.deps.Clock.Now().UTC()
	s.deps.Progress.Emit(evt)
}

func pagePath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("page-%04d.pdf", index+1))
}
