package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	policy := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}

	wantErr := errors.New("still broken")
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error %v, got %v", wantErr, err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	wantErr := errors.New("bad request")
	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return &Permanent{Err: wantErr}
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call for permanent error, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error {
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDefaultClampsBudget(t *testing.T) {
	p := Default(0)
	if p.MaxAttempts != 1 {
		t.Errorf("Expected minimum 1 attempt, got %d", p.MaxAttempts)
	}
}
