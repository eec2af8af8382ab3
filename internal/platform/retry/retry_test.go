package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoVoid_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVoid_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, nil, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVoid_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil, func() error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDoVoid_PermanentErrorStopsImmediately(t *testing.T) {
	errPermanent := errors.New("backend gone")
	classify := func(err error) Action {
		if errors.Is(err, errPermanent) {
			return Stop
		}
		return Retry
	}

	calls := 0
	err := DoVoid(context.Background(), Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, classify, func() error {
		calls++
		return errPermanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var permanent *PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.ErrorIs(t, err, errPermanent)
}

func TestDoVoid_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := DoVoid(ctx, Policy{MaxAttempts: 5, InitialBackoff: time.Minute}, nil, func() error {
		calls++
		cancel()
		return errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoVoid_BackoffDoublesAndReportsRetries(t *testing.T) {
	var attempts []int
	var backoffs []time.Duration
	policy := Policy{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			attempts = append(attempts, attempt)
			backoffs = append(backoffs, backoff)
		},
	}

	err := DoVoid(context.Background(), policy, nil, func() error {
		return errTransient
	})
	require.Error(t, err)

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, backoffs)
}
