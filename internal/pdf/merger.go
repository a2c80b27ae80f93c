// Package pdf merges per-page PDFs into one document with an external tool.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

// Argument placeholders expanded by the merger.
const (
	InputsPlaceholder = "{inputs}"
	OutputPlaceholder = "{output}"
)

// Runner executes name with args and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config selects the merge tool.
type Config struct {
	// Binary is the executable; defaults to pdfunite.
	Binary string
	// Args is the argument template. {inputs} expands to every input path and
	// {output} to the destination. Defaults to "{inputs} {output}".
	Args []string
	// Timeout bounds one invocation. Zero means no limit beyond ctx.
	Timeout time.Duration
	Retry   retry.Options
}

// Merger concatenates PDFs in order.
type Merger struct {
	cfg    Config
	run    Runner
	logger *zap.Logger
}

// New builds a Merger. A nil runner executes the binary with os/exec.
func New(cfg Config, run Runner, logger *zap.Logger) *Merger {
	if cfg.Binary == "" {
		cfg.Binary = "pdfunite"
	}
	if len(cfg.Args) == 0 {
		cfg.Args = []string{InputsPlaceholder, OutputPlaceholder}
	}
	if run == nil {
		run = execRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{cfg: cfg, run: run, logger: logger}
}

// Merge writes inputs, in order, to output. A single input is copied.
func (m *Merger) Merge(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("merge pdf: no inputs")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], output)
	}

	args := expandArgs(m.cfg.Args, inputs, output)
	opts := m.cfg.Retry
	if opts.ShouldRetry == nil {
		opts.ShouldRetry = retryableExecError
	}
	userRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.logger.Warn("pdf merge failed; retrying",
			zap.String("binary", m.cfg.Binary),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if userRetry != nil {
			userRetry(attempt, err, wait)
		}
	}

	err := retry.Do(ctx, func(ctx context.Context) error {
		runCtx := ctx
		if m.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
		}
		out, err := m.run(runCtx, m.cfg.Binary, args...)
		if err != nil {
			if msg := strings.TrimSpace(string(out)); msg != "" {
				return fmt.Errorf("%s: %w: %s", m.cfg.Binary, err, msg)
			}
			return fmt.Errorf("%s: %w", m.cfg.Binary, err)
		}
		return checkOutput(output)
	}, opts)
	if err != nil {
		return fmt.Errorf("merge pdf: %w", err)
	}
	m.logger.Info("pdf merged", zap.Int("inputs", len(inputs)), zap.String("output", output))
	return nil
}

func expandArgs(template, inputs []string, output string) []string {
	args := make([]string, 0, len(template)+len(inputs))
	for _, a := range template {
		switch a {
		case InputsPlaceholder:
			args = append(args, inputs...)
		case OutputPlaceholder:
			args = append(args, output)
		default:
			args = append(args, a)
		}
	}
	return args
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func retryableExecError(err error) bool {
	return !errors.Is(err, exec.ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, os.ErrPermission)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat merged pdf: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("merged pdf %s is empty", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
