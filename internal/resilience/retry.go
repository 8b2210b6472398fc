package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds the retry layer. Only errors the root package's
// IsRetryable recognizes as transient trigger a retry; everything else
// returns immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// defaultMaxDelay caps backoff when the config doesn't specify a ceiling.
const defaultMaxDelay = 30 * time.Second

func (p RetryPolicy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

// isRetryableFn is installed through SetRetryClassifier (the root
// package calls it from init) to avoid importing the root package from here (it would be an import cycle: root imports
// internal/resilience for Policy).
var isRetryableFn func(err error) bool

// SetRetryClassifier installs the function used to decide whether an
// error is transient. Called once at process startup by the package that
// wires resilience.Policy to the root error classifier.
func SetRetryClassifier(fn func(err error) bool) {
	isRetryableFn = fn
}

func withRetry(ctx context.Context, policy RetryPolicy, instanceSeed int64, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	rng := rand.New(rand.NewSource(instanceSeed))
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryableFn != nil && !isRetryableFn(err) {
			return err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		jittered := time.Duration(float64(delay) * (0.5 + rng.Float64()))
		if jittered > policy.maxDelay() {
			jittered = policy.maxDelay()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > policy.maxDelay() {
			delay = policy.maxDelay()
		}
	}

	return fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, lastErr)
}
