package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy selects how a computed backoff delay is perturbed.
type Strategy string

// Supported jitter strategies.
const (
	// JitterNone keeps the delay as computed. Useful in tests.
	JitterNone Strategy = "none"
	// JitterFull draws uniformly from [0, delay].
	JitterFull Strategy = "full"
	// JitterEqual keeps half the delay and randomizes the other half.
	JitterEqual Strategy = "equal"
	// JitterDecorrelated draws from [delay, previous*3]; the caller caps the result.
	JitterDecorrelated Strategy = "decorrelated"
)

// ParseStrategy converts a configuration value into a Strategy.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case JitterNone, JitterFull, JitterEqual, JitterDecorrelated:
		return s, nil
	case "":
		return JitterNone, nil
	default:
		return "", fmt.Errorf("unknown jitter strategy %q", raw)
	}
}

// Backoff returns base * multiplier^attempt without any cap. Results that do
// not fit in a time.Duration saturate at the largest representable value.
func Backoff(attempt int, base time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if math.IsNaN(delay) || delay <= 0 {
		return 0
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// ApplyJitter perturbs delay according to strategy. previous is only used by
// JitterDecorrelated and should be the wait computed for the prior attempt.
func ApplyJitter(delay time.Duration, strategy Strategy, previous time.Duration) time.Duration {
	switch strategy {
	case JitterFull:
		if delay <= 0 {
			return 0
		}
		return randBetween(0, delay)
	case JitterEqual:
		if delay <= 0 {
			return 0
		}
		half := delay / 2
		return half + randBetween(0, delay-half)
	case JitterDecorrelated:
		if delay <= 0 {
			return 0
		}
		upper := previous
		if upper > math.MaxInt64/3 {
			upper = time.Duration(math.MaxInt64)
		} else {
			upper *= 3
		}
		if upper <= delay {
			return delay
		}
		return randBetween(delay, upper)
	default:
		return delay
	}
}

// randBetween returns a uniformly distributed duration in [lo, hi].
func randBetween(lo, hi time.Duration) time.Duration {
	span := int64(hi - lo)
	if span <= 0 {
		return lo
	}
	if span < math.MaxInt64 {
		span++
	}
	return lo + time.Duration(rand.Int64N(span)) // #nosec G404 -- jitter does not need crypto randomness
}
