package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/store"
)

// StoreSink persists run history through a store.RunRepository. Page
// outcomes between two run milestones are written as one batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies batch in order. Run milestones flush the pending page
// records first so a page is never written before its run row.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.PageRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordPages(ctx, pending); err != nil {
			return fmt.Errorf("record pages: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageDone, progress.StagePageError:
			pending = append(pending, pageRecord(evt))
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			if err := s.applyRun(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) applyRun(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, evt.RunID, evt.URL, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunError, note(evt)); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func pageRecord(evt progress.Event) store.PageRecord {
	rec := store.PageRecord{
		RunID:    evt.RunID,
		URL:      evt.URL,
		Status:   store.PageRendered,
		Bytes:    evt.Bytes,
		Attempts: evt.Attempts,
		Duration: evt.Dur,
		At:       evt.TS,
	}
	if evt.Stage == progress.StagePageError {
		rec.Status = store.PageFailed
		rec.ErrorMessage = note(evt)
	}
	return rec
}

func note(evt progress.Event) *string {
	if evt.Note == "" {
		return nil
	}
	n := evt.Note
	return &n
}

// Close implements progress.Sink; the repository is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
