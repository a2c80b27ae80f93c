package pdf

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xrf-9527/documentation-pdf-scraper-sub001/internal/retry"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func fastRetry() retry.Options {
	return retry.Options{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestMergeInvokesBinaryWithTemplate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "out", "docs.pdf")
	var gotName string
	var gotArgs []string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		writeFile(t, out, "%PDF merged")
		return nil, nil
	}

	m := New(Config{
		Binary: "qpdf",
		Args:   []string{"--empty", "--pages", InputsPlaceholder, "--", OutputPlaceholder},
		Retry:  fastRetry(),
	}, run, nil)
	require.NoError(t, m.Merge(context.Background(), []string{"a.pdf", "b.pdf"}, out))

	require.Equal(t, "qpdf", gotName)
	require.Equal(t, []string{"--empty", "--pages", "a.pdf", "b.pdf", "--", out}, gotArgs)
}

func TestMergeDefaultsToPdfunite(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil, nil)
	require.Equal(t, "pdfunite", m.cfg.Binary)
	require.Equal(t, []string{"a", "b", "out"}, expandArgs(m.cfg.Args, []string{"a", "b"}, "out"))
}

func TestMergeRetriesAndReportsOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "docs.pdf")
	calls := 0
	run := func(context.Context, string, ...string) ([]byte, error) {
		calls++
		if calls < 2 {
			return []byte("Syntax Error: Couldn't read xref table\n"), errors.New("exit status 1")
		}
		writeFile(t, out, "%PDF")
		return nil, nil
	}

	m := New(Config{Retry: fastRetry()}, run, nil)
	require.NoError(t, m.Merge(context.Background(), []string{"a.pdf", "b.pdf"}, out))
	require.Equal(t, 2, calls)

	calls = 0
	failing := func(context.Context, string, ...string) ([]byte, error) {
		calls++
		return []byte("Syntax Error: Couldn't read xref table"), errors.New("exit status 1")
	}
	err := New(Config{Retry: fastRetry()}, failing, nil).Merge(context.Background(), []string{"a.pdf", "b.pdf"}, out)
	require.ErrorContains(t, err, "xref table")
	require.Equal(t, 3, calls)
}

func TestMergeMissingBinaryIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	run := func(context.Context, string, ...string) ([]byte, error) {
		calls++
		return nil, &exec.Error{Name: "pdfunite", Err: exec.ErrNotFound}
	}
	err := New(Config{Retry: fastRetry()}, run, nil).
		Merge(context.Background(), []string{"a.pdf", "b.pdf"}, filepath.Join(t.TempDir(), "o.pdf"))
	require.ErrorIs(t, err, exec.ErrNotFound)
	require.Equal(t, 1, calls)
}

func TestMergeRejectsEmptyOutput(t *testing.T) {
	t.Parallel()

	run := func(context.Context, string, ...string) ([]byte, error) { return nil, nil }
	err := New(Config{}, run, nil).
		Merge(context.Background(), []string{"a.pdf", "b.pdf"}, filepath.Join(t.TempDir(), "o.pdf"))
	require.Error(t, err)
}

func TestMergeSingleInputCopies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "only.pdf")
	writeFile(t, src, "%PDF single")
	run := func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("binary must not run for a single input")
		return nil, nil
	}

	dst := filepath.Join(dir, "nested", "docs.pdf")
	require.NoError(t, New(Config{}, run, nil).Merge(context.Background(), []string{src}, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "%PDF single", string(got))

	require.Error(t, New(Config{}, run, nil).Merge(context.Background(), nil, dst))
}

func TestMergeKeepsCallerRetryHook(t *testing.T) {
	t.Parallel()

	calls := 0
	run := func(context.Context, string, ...string) ([]byte, error) {
		calls++
		return nil, errors.New("exit status 1")
	}
	var attempts []int
	opts := fastRetry()
	opts.OnRetry = func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	err := New(Config{Retry: opts}, run, nil).
		Merge(context.Background(), []string{"a.pdf", "b.pdf"}, filepath.Join(t.TempDir(), "o.pdf"))
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, attempts)
}
