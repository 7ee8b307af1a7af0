package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("expected InitialDelay=100ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 2*time.Second {
		t.Errorf("expected MaxDelay=2s, got %v", cfg.MaxDelay)
	}
}

func TestDo_SucceedsAfterConnectionErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), nil, "query", func() error {
		calls++
		if calls < 3 {
			return apperrors.NewConnectionError("postgres", errors.New("connection refused"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permErr := apperrors.NewPermissionError("payroll", nil)
	err := Do(context.Background(), fastConfig(3), nil, "query", func() error {
		calls++
		return permErr
	})

	if !errors.Is(err, apperrors.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), nil, "search", func() error {
		calls++
		return apperrors.NewConnectionError("vector index", nil)
	})

	if !errors.Is(err, apperrors.ErrConnection) {
		t.Fatalf("expected wrapped connection error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	err := Do(ctx, cfg, nil, "query", func() error {
		calls++
		cancel()
		return apperrors.NewConnectionError("postgres", nil)
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(2), nil, "count", func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("read tcp: i/o timeout")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"connection error type", apperrors.NewConnectionError("redis", nil), true},
		{"permission error type", apperrors.NewPermissionError("t", nil), false},
		{"driver message", errors.New("dial tcp: connection reset by peer"), true},
		{"syntax error", errors.New(`syntax error at or near "FROM"`), false},
		{"context deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDelayFor_CappedAtMaxDelay(t *testing.T) {
	cfg := &Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 10}
	if d := cfg.delayFor(0); d != 10*time.Millisecond {
		t.Errorf("attempt 0: expected 10ms, got %v", d)
	}
	if d := cfg.delayFor(3); d != 50*time.Millisecond {
		t.Errorf("attempt 3: expected 50ms cap, got %v", d)
	}
}
