// Package retry wraps fallible operations with bounded attempts, exponential
// backoff and jitter. Errors from the wrapped operation are never reclassified:
// once attempts are exhausted the last error is returned exactly as received.
package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Progress is reported before every attempt by DoWithProgress.
type Progress struct {
	Attempt     int
	MaxAttempts int
}

// Options control one retry loop. The zero value performs a single attempt.
type Options struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// BaseDelay is scaled by Multiplier^attempt to produce the backoff.
	BaseDelay time.Duration
	// Multiplier is the exponential growth factor. Defaults to 2.
	Multiplier float64
	// MaxDelay caps every wait after jitter. Zero disables the cap.
	MaxDelay time.Duration
	// Jitter selects the randomization applied to each backoff.
	Jitter Strategy
	// OnRetry observes every scheduled retry. attempt starts at 1 for the
	// first retry.
	OnRetry func(attempt int, err error, wait time.Duration)
	// OnProgress is invoked before every attempt, the first included. Only
	// DoWithProgress calls it.
	OnProgress func(Progress)
	// ShouldRetry stops the loop early when it returns false. Nil retries
	// every error.
	ShouldRetry func(error) bool
}

// DefaultOptions returns three attempts with one second of full-jitter
// exponential backoff capped at thirty seconds.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      JitterFull,
	}
}

func (o Options) normalized() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Duration(math.MaxInt64)
	}
	return o
}

// NextWait computes the wait before retry number attempt given the wait used
// for the previous retry.
func (o Options) NextWait(attempt int, previous time.Duration) time.Duration {
	o = o.normalized()
	wait := ApplyJitter(Backoff(attempt, o.BaseDelay, o.Multiplier), o.Jitter, previous)
	return min(wait, o.MaxDelay)
}

// Do runs op until it succeeds or opts.MaxAttempts calls have failed.
func Do(ctx context.Context, op func(context.Context) error, opts Options) error {
	_, err := run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts, false)
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	return run(ctx, op, opts, false)
}

// DoWithProgress is Do with opts.OnProgress invoked before each attempt.
func DoWithProgress(ctx context.Context, op func(context.Context) error, opts Options) error {
	_, err := run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts, true)
	return err
}

func run[T any](
	ctx context.Context,
	op func(context.Context) (T, error),
	opts Options,
	reportProgress bool,
) (T, error) {
	opts = opts.normalized()
	var (
		zero     T
		lastErr  error
		previous = opts.BaseDelay
	)
	for call := 1; call <= opts.MaxAttempts; call++ {
		if err := ctx.Err(); err != nil {
			return zero, joinCanceled(err, lastErr)
		}
		if reportProgress && opts.OnProgress != nil {
			opts.OnProgress(Progress{Attempt: call, MaxAttempts: opts.MaxAttempts})
		}
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if call == opts.MaxAttempts {
			break
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			break
		}
		wait := opts.NextWait(call, previous)
		previous = wait
		if opts.OnRetry != nil {
			opts.OnRetry(call, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, joinCanceled(err, lastErr)
		}
	}
	return zero, lastErr
}

func joinCanceled(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return errors.Join(ctxErr, lastErr)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
