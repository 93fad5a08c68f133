package meadow

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how a Call retries a single meadow driver invocation,
// adapted from the teacher's orchestrator stage retry policy (same
// exponential-backoff-with-jitter shape, re-purposed here for driver calls
// instead of pipeline stages).
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 10s
	JitterFrac float64       // default 0.20
}

// DefaultRetryPolicy is conservative: meadow calls sit on the hot path of
// every scheduling cycle, so retries must stay short (spec.md §5, "meadow
// driver calls must have timeouts").
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		JitterFrac:  0.20,
	}
}

func shouldRetry(r RetryPolicy, attempts int, err error) bool {
	if r.MaxAttempts <= 0 || attempts >= r.MaxAttempts {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB := r.MinBackoff
	maxB := r.MaxBackoff
	j := r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 10 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}

// Call runs fn with a per-attempt timeout, retrying per policy. Each use
// wraps exactly one Driver method call; the garbage collector uses it for
// StatusOfAllOurWorkers and FindOutCauses.
func Call(ctx context.Context, policy RetryPolicy, perAttemptTimeout time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(policy, attempt, err) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(computeBackoff(policy, attempt)):
		}
	}
}
