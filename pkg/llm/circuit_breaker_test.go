package llm

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, resetAfter time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state to be CircuitClosed, got %v", cb.State())
	}
	if allowed, err := cb.Allow(); !allowed || err != nil {
		t.Errorf("expected closed circuit to allow, got allowed=%v err=%v", allowed, err)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit to stay closed before threshold, got %v", cb.State())
	}
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("expected CircuitOpen after 3 failures, got %v", cb.State())
	}
	allowed, err := cb.Allow()
	if allowed {
		t.Error("expected open circuit to reject")
	}
	if err == nil || !strings.Contains(err.Error(), "oracle circuit open") {
		t.Errorf("expected circuit open error, got %v", err)
	}
	if GetErrorType(err) != ErrorTypeCircuit {
		t.Errorf("expected ErrorTypeCircuit, got %v", GetErrorType(err))
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed, got %v", cb.State())
	}
	if cb.ConsecutiveFailures() != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", cb.ConsecutiveFailures())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)
	cb.RecordFailure()

	clock.Advance(31 * time.Second)

	if allowed, _ := cb.Allow(); !allowed {
		t.Fatal("expected probe to be allowed after reset timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected CircuitHalfOpen, got %v", cb.State())
	}
	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected second request to be rejected while probe in flight")
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected failed probe to reopen circuit, got %v", cb.State())
	}

	clock.Advance(31 * time.Second)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected successful probe to close circuit, got %v", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  2,
		ResetAfter: time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = clock.Now

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure() // already open, no transition
	clock.Advance(2 * time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(42): "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Allow()
			cb.RecordFailure()
			cb.State()
		}()
	}
	wg.Wait()

	if cb.ConsecutiveFailures() != 50 {
		t.Errorf("expected 50 failures, got %d", cb.ConsecutiveFailures())
	}
}
