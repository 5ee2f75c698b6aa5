package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxRetries: 4, BaseDelay: 100 * time.Millisecond, BackoffFactor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: 0},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayClampsFactor(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, BackoffFactor: 0.5}
	assert.Equal(t, 50*time.Millisecond, p.Delay(3))
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, BackoffFactor: 2}
	calls := 0

	start := time.Now()
	got, err := Do(context.Background(), p, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("net::ERR_CONNECTION_RESET")
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	// baseDelay + baseDelay*backoffFactor is the lower bound for two retries.
	assert.GreaterOrEqual(t, elapsed, p.BaseDelay+time.Duration(float64(p.BaseDelay)*p.BackoffFactor))
}

func TestDo_NeverExceedsMaxRetries(t *testing.T) {
	p := Policy{MaxRetries: 4, BaseDelay: time.Millisecond, BackoffFactor: 1}
	calls := 0
	lastErr := errors.New("attempt 4 failed")

	_, err := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		calls++
		if attempt == 4 {
			return 0, lastErr
		}
		return 0, errors.New("earlier failure")
	})

	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, lastErr, "final attempt's error must be surfaced")
}

func TestDo_ZeroAttempts(t *testing.T) {
	_, err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) (int, error) {
		t.Fatal("op must not run")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrNoAttempts)
}

func TestDo_StopsOnCancel(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, BackoffFactor: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoBool(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, BackoffFactor: 1}

	t.Run("eventually true", func(t *testing.T) {
		calls := 0
		ok := DoBool(context.Background(), p, func(ctx context.Context, attempt int) bool {
			calls++
			return attempt == 2
		})
		assert.True(t, ok)
		assert.Equal(t, 2, calls)
	})

	t.Run("always false", func(t *testing.T) {
		calls := 0
		ok := DoBool(context.Background(), p, func(ctx context.Context, attempt int) bool {
			calls++
			return false
		})
		assert.False(t, ok)
		assert.Equal(t, 3, calls)
	})
}
