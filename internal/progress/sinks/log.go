package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
)

// LogSink writes one structured log line per event. Run milestones log at
// info, page starts at debug, and page failures at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		if evt.Pages > 0 {
			fields = append(fields, zap.Int("pages", evt.Pages))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Attempts > 0 {
			fields = append(fields, zap.Int("attempts", evt.Attempts))
		}
		if evt.StatusCode > 0 {
			fields = append(fields, zap.Int("status", evt.StatusCode))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(levelFor(evt.Stage), "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StagePageStart:
		return zapcore.DebugLevel
	case progress.StagePageError, progress.StageRunError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
