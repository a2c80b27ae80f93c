package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	id := uuid.New()
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: id, TS: now, Stage: progress.StageRunStart, URL: "https://docs.example.com/"},
		{RunID: id, TS: now, Stage: progress.StagePageStart, URL: "https://docs.example.com/a"},
		{RunID: id, TS: now, Stage: progress.StagePageError, URL: "https://docs.example.com/b", Attempts: 3, Note: "HTTP 500"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	ctx := entries[2].ContextMap()
	require.Equal(t, "HTTP 500", ctx["note"])
	require.EqualValues(t, 3, ctx["attempts"])
	require.Equal(t, id.String(), ctx["run_id"])
}
