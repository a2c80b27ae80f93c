package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type attemptError struct {
	n int
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("attempt %d failed", e.n)
}

func fastOptions(attempts int) Options {
	return Options{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      JitterNone,
	}
}

func TestDoReturnsLastErrorUnchanged(t *testing.T) {
	t.Parallel()

	calls := 0
	var errs []*attemptError
	err := Do(context.Background(), func(context.Context) error {
		calls++
		e := &attemptError{n: calls}
		errs = append(errs, e)
		return e
	}, fastOptions(3))

	require.Equal(t, 3, calls)
	require.Len(t, errs, 3)
	require.Same(t, errs[2], err, "the third call's error must be returned as-is")

	var ae *attemptError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, 3, ae.n)
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, fastOptions(5))

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDoValueReturnsValue(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := DoValue(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("boom")
		}
		return "rendered", nil
	}, fastOptions(2))

	require.NoError(t, err)
	require.Equal(t, "rendered", got)
}

func TestOnRetryNumberingAndWaits(t *testing.T) {
	t.Parallel()

	type call struct {
		attempt int
		wait    time.Duration
		err     error
	}
	var calls []call
	opts := Options{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      JitterNone,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			calls = append(calls, call{attempt: attempt, wait: wait, err: err})
		},
	}
	sentinel := errors.New("down")
	err := Do(context.Background(), func(context.Context) error { return sentinel }, opts)

	require.ErrorIs(t, err, sentinel)
	require.Len(t, calls, 3, "no callback after the final attempt")
	require.Equal(t, 1, calls[0].attempt)
	require.Equal(t, 2*time.Millisecond, calls[0].wait)
	require.Equal(t, 2, calls[1].attempt)
	require.Equal(t, 4*time.Millisecond, calls[1].wait)
	require.Equal(t, 3, calls[2].attempt)
	require.Equal(t, 5*time.Millisecond, calls[2].wait, "capped by MaxDelay")
	require.ErrorIs(t, calls[0].err, sentinel)
}

func TestZeroOptionsRunOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	}, Options{})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestShouldRetryStopsEarly(t *testing.T) {
	t.Parallel()

	permanent := errors.New("404")
	calls := 0
	opts := fastOptions(5)
	opts.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	}, opts)

	require.Same(t, permanent, err)
	require.Equal(t, 1, calls)
}

func TestDoWithProgressReportsEveryAttempt(t *testing.T) {
	t.Parallel()

	var seen []Progress
	opts := fastOptions(3)
	opts.OnProgress = func(p Progress) { seen = append(seen, p) }

	calls := 0
	err := DoWithProgress(context.Background(), func(context.Context) error {
		calls++
		require.Len(t, seen, calls, "progress must precede the attempt")
		return errors.New("fail")
	}, opts)

	require.Error(t, err)
	require.Equal(t, []Progress{
		{Attempt: 1, MaxAttempts: 3},
		{Attempt: 2, MaxAttempts: 3},
		{Attempt: 3, MaxAttempts: 3},
	}, seen)
}

func TestDoIgnoresProgressCallback(t *testing.T) {
	t.Parallel()

	opts := fastOptions(2)
	opts.OnProgress = func(Progress) { t.Fatal("Do must not report progress") }
	require.Error(t, Do(context.Background(), func(context.Context) error {
		return errors.New("fail")
	}, opts))
}

func TestDoHonorsContextDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	opErr := errors.New("unavailable")
	opts := Options{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		Jitter:      JitterNone,
		OnRetry: func(int, error, time.Duration) {
			cancel()
		},
	}

	start := time.Now()
	err := Do(ctx, func(context.Context) error { return opErr }, opts)

	require.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, opErr)
}

func TestDoWithCanceledContextSkipsOperation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Do(ctx, func(context.Context) error {
		called = true
		return nil
	}, fastOptions(3))

	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestNextWaitDecorrelatedCapped(t *testing.T) {
	t.Parallel()

	opts := Options{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   300 * time.Millisecond,
		Jitter:     JitterDecorrelated,
	}
	previous := opts.BaseDelay
	for attempt := 1; attempt <= 10; attempt++ {
		wait := opts.NextWait(attempt, previous)
		require.LessOrEqual(t, wait, opts.MaxDelay)
		require.Positive(t, wait)
		previous = wait
	}
}
