package retry

import (
	"context"
	"log"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       SleepFunc
	Logger      *log.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Delay is the wait after failed attempt i (0-based): base * 2^i.
func (p Policy) Delay(i int) time.Duration {
	return p.withDefaults().BaseDelay * time.Duration(1<<i)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Logger == nil {
		p.Logger = log.Default()
	}
	return p
}

// Do invokes op up to MaxAttempts times, backing off exponentially between
// attempts. The last attempt's error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		result T
		err    error
	)
	for i := 0; i < p.MaxAttempts; i++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}

		p.Logger.Printf("[retry] attempt %d/%d failed: %v", i+1, p.MaxAttempts, err)
		if i == p.MaxAttempts-1 {
			break
		}

		if sleepErr := p.Sleep(ctx, p.Delay(i)); sleepErr != nil {
			var zero T
			return zero, sleepErr
		}
	}

	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
