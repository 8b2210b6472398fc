package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func init() {
	SetRetryClassifier(func(err error) bool {
		return errors.Is(err, errTransient)
	})
}

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func TestPolicy_Run_Disabled_RunsOnce(t *testing.T) {
	calls := 0
	p := NewPolicy("test", Config{Enable: false}, 1)

	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Run_RetriesTransientErrors(t *testing.T) {
	calls := 0
	p := NewPolicy("test", Config{
		Enable:      true,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, 42)

	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Run_StopsOnPermanentError(t *testing.T) {
	calls := 0
	p := NewPolicy("test", Config{
		Enable:      true,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, 1)

	err := p.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Run_BreakerOpensAfterFailures(t *testing.T) {
	p := NewPolicy("test", Config{
		Enable:                  true,
		MaxAttempts:             1,
		BreakerEnable:           true,
		BreakerFailureThreshold: 2,
		BreakerDurationOfBreak:  time.Minute,
	}, 1)

	_ = p.Run(context.Background(), func(ctx context.Context) error { return errPermanent })
	_ = p.Run(context.Background(), func(ctx context.Context) error { return errPermanent })

	assert.Equal(t, StateOpen, p.State())

	err := p.Run(context.Background(), func(ctx context.Context) error { return nil })
	var openErr *CircuitOpenError
	assert.ErrorAs(t, err, &openErr)
}

func TestPolicy_Run_TimeoutPropagatesToOp(t *testing.T) {
	p := NewPolicy("test", Config{
		Enable:           true,
		MaxAttempts:      1,
		OperationTimeout: 10 * time.Millisecond,
	}, 1)

	err := p.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ReturnsValueOnSuccess(t *testing.T) {
	p := NewPolicy("test", Config{Enable: true, MaxAttempts: 1}, 1)

	v, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 7, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}
