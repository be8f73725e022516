package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bookindex/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	const failures = 3
	s := &recordingSleeper{}
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
		Sleep:        s.sleep,
	}, func() error {
		calls++
		if calls <= failures {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, failures+1, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, s.waits)
}

func TestRetry_ExhaustsWithoutExtraAttempt(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		Sleep:        s.sleep,
	}, func() error {
		calls++
		return errTransient
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 5, calls)
	// four waits: none after the final attempt
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, s.waits)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("bad request")
	s := &recordingSleeper{}
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{
		MaxAttempts: 5,
		Sleep:       s.sleep,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "test", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		OnRetry:      func(int, error, time.Duration) { cancel() },
	}, func() error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestComputeDelay_Cap(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, ComputeDelay(1, cfg))
	assert.Equal(t, 4*time.Second, ComputeDelay(3, cfg))
	assert.Equal(t, 5*time.Second, ComputeDelay(4, cfg))
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []State
	cb := NewCircuitBreaker("kafka", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Second,
		Now:              func() time.Time { return now },
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})

	fail := func() error { return errTransient }
	ok := func() error { return nil }

	assert.Error(t, cb.Execute(fail))
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("kafka", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	assert.Error(t, cb.Execute(func() error { return errTransient }))
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = WithTimeout(context.Background(), 0, "unbounded", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
