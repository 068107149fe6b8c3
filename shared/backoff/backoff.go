// Package backoff provides exponential backoff utilities for retry logic.
package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type Strategy struct {
	Delays []time.Duration
	// Jitter adds a random fraction of the delay, in [0, Jitter), to each wait.
	Jitter float64
}

var (
	Quick = Strategy{
		Delays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
		},
		Jitter: 0.5,
	}

	Standard = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		},
		Jitter: 0.5,
	}

)

// Exponential builds a strategy of n delays starting at base and doubling.
func Exponential(base time.Duration, n int, jitter float64) Strategy {
	delays := make([]time.Duration, n)
	d := base
	for i := range delays {
		delays[i] = d
		d *= 2
	}
	return Strategy{Delays: delays, Jitter: jitter}
}

// Delay returns the jittered wait for attempt i (zero-based).
func (s Strategy) Delay(i int) time.Duration {
	d := s.Delays[i]
	if s.Jitter > 0 {
		d += time.Duration(rand.Float64() * s.Jitter * float64(d))
	}
	return d
}

type RetryFunc func(ctx context.Context, attempt int) error

func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	return RetryWithCallback(ctx, strategy, fn, nil)
}

func RetryWithCallback(ctx context.Context, strategy Strategy, fn RetryFunc, onRetry func(attempt int, err error, delay time.Duration)) error {
	var lastErr error

	for i := 0; i < len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err
			delay := strategy.Delay(i)

			if onRetry != nil {
				onRetry(i+1, err, delay)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", len(strategy.Delays), lastErr)
}
