package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("development logger should enable debug")
	}
	logger.Info("development logger ready")
}

func TestNewProductionLoggerLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestFileSinkWritesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "scraper.log")
	logger, err := New(Config{File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	logger.Info("render complete")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	require.True(t, strings.HasPrefix(line, "{"), "file sink must be JSON: %s", line)
	require.Contains(t, line, `"msg":"render complete"`)
	require.Contains(t, line, `"ts":`)
}
