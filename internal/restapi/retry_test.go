// internal/restapi/retry_test.go
package restapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShouldRetryClassification(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", errors.New("get /api/cases/1: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"timeout", errors.New("request timeout"), true},
		{"bad request", errors.New("get /api/cases/1: status 400: bad id"), false},
		{"unauthorized", errors.New("status 401: token expired"), false},
		{"not found", errors.New("status 404: no such case"), false},
		{"unknown defaults retryable", errors.New("something odd"), true},
		{"nil", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ShouldRetry(tc.err, 1); got != tc.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}

	if p.ShouldRetry(errors.New("timeout"), p.MaxAttempts+1) {
		t.Error("attempts past the budget must not retry")
	}
}

func TestNextDelayBackoff(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     300 * time.Millisecond,
	}
	if d := p.NextDelay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 delay = %v", d)
	}
	if d := p.NextDelay(2); d != 200*time.Millisecond {
		t.Errorf("attempt 2 delay = %v", d)
	}
	if d := p.NextDelay(4); d != 300*time.Millisecond {
		t.Errorf("attempt 4 delay should cap at MaxDelay, got %v", d)
	}
}

func TestExecuteStopsOnPermanentError(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Execute(context.Background(), func() error {
		calls++
		return errors.New("status 404: gone")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried %d times", calls-1)
	}
}

func TestExecuteRecovers(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecuteHonorsContext(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Minute, Multiplier: 1, MaxDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Execute(ctx, func() error { return errors.New("timeout") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
