package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// ExponentialDelay returns min(base*2^attempt, maxDelay).
func ExponentialDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := Backoff(attempt, base, 2)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// ExponentialBackoff waits ExponentialDelay(attempt, base, maxDelay) without a
// surrounding retry loop.
func ExponentialBackoff(ctx context.Context, attempt int, base, maxDelay time.Duration) error {
	return sleep(ctx, ExponentialDelay(attempt, base, maxDelay))
}

// JitteredDuration returns base*(1+u) with u drawn from [-factor, factor],
// clamped to be non-negative.
func JitteredDuration(base time.Duration, factor float64) time.Duration {
	if factor < 0 {
		factor = -factor
	}
	u := (rand.Float64()*2 - 1) * factor // #nosec G404 -- jitter does not need crypto randomness
	d := time.Duration(float64(base) * (1 + u))
	if d < 0 {
		return 0
	}
	return d
}

// JitteredDelay waits JitteredDuration(base, factor).
func JitteredDelay(ctx context.Context, base time.Duration, factor float64) error {
	return sleep(ctx, JitteredDuration(base, factor))
}

// Task is one unit of work run by BatchDelay.
type Task[T any] func(ctx context.Context) (T, error)

// Result records the outcome of one task together with its original index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Succeeded reports whether the task completed without error.
func (r Result[T]) Succeeded() bool {
	return r.Err == nil
}

// BatchDelay runs tasks one at a time, waiting interval before every task
// after the first. A failing task never stops the batch. Results are returned
// in task order; tasks skipped because ctx ended carry ctx's error.
func BatchDelay[T any](ctx context.Context, tasks []Task[T], interval time.Duration) []Result[T] {
	results := make([]Result[T], len(tasks))
	for i, task := range tasks {
		results[i].Index = i
		if i > 0 {
			if err := sleep(ctx, interval); err != nil {
				results[i].Err = err
				continue
			}
		} else if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		results[i].Value, results[i].Err = task(ctx)
	}
	return results
}
