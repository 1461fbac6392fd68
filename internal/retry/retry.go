package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes a bounded retry loop with exponential backoff.
// The zero value retries nothing; use Default for the usual shape.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default returns the retry shape used at the feed, summarization and
// delivery boundaries: budget attempts, 1s initial backoff doubling up to 30s.
func Default(budget int) Policy {
	if budget < 1 {
		budget = 1
	}
	return Policy{
		MaxAttempts: budget,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Permanent wraps an error so Do stops retrying immediately.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is done.
// The last error is returned unwrapped from any Permanent marker.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
