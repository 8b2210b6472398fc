// Package resilience composes timeout, circuit-breaker, and retry
// behavior around fallible operations. Composition order is
// explicit in the call stack: WithTimeout wraps WithBreaker wraps
// WithRetry, matching the outer-to-inner order an operation actually
// experiences a deadline, then a breaker check, then retry attempts.
package resilience

import (
	"context"
	"time"
)

// Config mirrors config.ResilienceConfig without binding this package to
// viper/mapstructure tags.
type Config struct {
	Enable bool

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	BreakerEnable           bool
	BreakerFailureThreshold int
	BreakerDurationOfBreak  time.Duration

	OperationTimeout time.Duration
}

// Policy is the composed timeout -> breaker -> retry wrapper for a single
// named operation class (e.g. "cache.get", "cleanup.delete").
type Policy struct {
	name    string
	cfg     Config
	breaker *CircuitBreaker
	seed    int64
}

// NewPolicy builds a Policy. seed derives retry jitter so different
// instances don't retry in lockstep; pass a value derived from the
// instance id.
func NewPolicy(name string, cfg Config, seed int64) *Policy {
	p := &Policy{name: name, cfg: cfg, seed: seed}
	if cfg.BreakerEnable {
		p.breaker = NewCircuitBreaker(name, cfg.BreakerFailureThreshold, cfg.BreakerDurationOfBreak)
	}
	return p
}

// Run executes op under the composed policy. If resilience is disabled
// in cfg, op runs once, unwrapped.
func (p *Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if !p.cfg.Enable {
		return op(ctx)
	}

	return p.withTimeout(ctx, func(ctx context.Context) error {
		return p.withBreaker(func(ctx context.Context) error {
			return withRetry(ctx, RetryPolicy{
				MaxAttempts: p.cfg.MaxAttempts,
				BaseDelay:   p.cfg.BaseDelay,
				MaxDelay:    p.cfg.MaxDelay,
			}, p.seed, op)
		}, ctx)
	})
}

func (p *Policy) withTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	if p.cfg.OperationTimeout <= 0 {
		return op(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()
	return op(timeoutCtx)
}

func (p *Policy) withBreaker(op func(ctx context.Context) error, ctx context.Context) error {
	if p.breaker == nil {
		return op(ctx)
	}
	if !p.breaker.Allow() {
		return &CircuitOpenError{Name: p.name}
	}
	err := op(ctx)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

// Do runs a value-returning operation through the same composed policy.
// Go disallows generic methods, so this is a package-level function
// taking the policy explicitly.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// State reports the underlying breaker's state, or StateClosed if the
// breaker is disabled.
func (p *Policy) State() BreakerState {
	if p.breaker == nil {
		return StateClosed
	}
	return p.breaker.State()
}
