// Package retry provides the exponential-backoff combinator shared by
// navigation, click and type operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmylchreest/autobrowse/internal/logger"
)

// ErrNoAttempts is returned when a policy allows zero attempts.
var ErrNoAttempts = errors.New("retry: policy allows no attempts")

// Policy controls attempt count and inter-attempt delay.
type Policy struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries" validate:"gte=1,lte=20"`
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay" validate:"gte=0"`
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor" json:"backoff_factor" validate:"gte=1"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		BackoffFactor: 2,
	}
}

// Delay returns the wait before attempt k (1-based). The first attempt
// never waits; attempt k>=2 waits BaseDelay * BackoffFactor^(k-1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 || p.BaseDelay <= 0 {
		return 0
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1)))
}

// WithMaxRetries returns a copy of p with a different attempt count.
func (p Policy) WithMaxRetries(n int) Policy {
	p.MaxRetries = n
	return p
}

// Do runs op (attempt is 1-based) until it succeeds or MaxRetries attempts have been made.
// The result of the final attempt is returned. Failures of earlier
// attempts are logged at debug level only.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if p.MaxRetries < 1 {
		return zero, ErrNoAttempts
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
				return zero, fmt.Errorf("retry cancelled before attempt %d: %w", attempt, serr)
			}
		}

		result, err = op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if attempt < p.MaxRetries {
			logger.Debug("attempt failed, retrying",
				"attempt", attempt,
				"max", p.MaxRetries,
				"next_delay", p.Delay(attempt+1),
				"error", err)
		}
	}
	return result, err
}

// errFalse marks a boolean attempt that returned false.
var errFalse = errors.New("operation reported failure")

// DoBool runs a boolean operation under the policy and returns the
// outcome of the last attempt made.
func DoBool(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) bool) bool {
	ok, _ := Do(ctx, p, func(ctx context.Context, attempt int) (bool, error) {
		if op(ctx, attempt) {
			return true, nil
		}
		return false, errFalse
	})
	return ok
}

// sleep pauses for d, returning early with the context error on cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
