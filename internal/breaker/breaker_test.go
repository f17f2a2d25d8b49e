package breaker

import (
	"errors"
	"testing"
	"time"
)

var errFail = errors.New("fail")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	b := New(Settings{Name: "test", MaxFailures: maxFailures, ResetTimeout: reset})
	b.now = clk.now
	return b, clk
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, 100*time.Millisecond)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after 3 failures, got %v", b.CurrentState())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(2, 50*time.Millisecond)
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errFail })
	}
	if b.CurrentState() != StateOpen {
		t.Fatal("expected Open")
	}

	clk.advance(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed after successful trial call, got %v", b.CurrentState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2, 50*time.Millisecond)
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errFail })
	}

	clk.advance(60 * time.Millisecond)
	_ = b.Execute(func() error { return errFail })

	if b.CurrentState() != StateOpen {
		t.Errorf("expected Open after failed trial call, got %v", b.CurrentState())
	}
	// reset timer restarts from the failed trial call
	if err := b.Execute(func() error { return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SingleTrialCall(t *testing.T) {
	b, clk := newTestBreaker(1, 10*time.Millisecond)
	_ = b.Execute(func() error { return errFail })
	clk.advance(20 * time.Millisecond)

	inner := errors.New("unset")
	_ = b.Execute(func() error {
		inner = b.Execute(func() error { return nil })
		return nil
	})
	if inner != ErrCircuitOpen {
		t.Errorf("second caller during trial call: expected ErrCircuitOpen, got %v", inner)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 100*time.Millisecond)

	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return nil })

	_ = b.Execute(func() error { return errFail })
	_ = b.Execute(func() error { return errFail })

	if b.CurrentState() != StateClosed {
		t.Errorf("expected Closed (counter should have reset), got %v", b.CurrentState())
	}
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errClient := errors.New("bad request")
	b := New(Settings{
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		IsFailure:    func(err error) bool { return !errors.Is(err, errClient) },
	})

	if err := b.Execute(func() error { return errClient }); err != errClient {
		t.Fatalf("expected errClient passed through, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("client errors must not trip the breaker, got %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChangeCallback(t *testing.T) {
	var transitions []State
	b, clk := newTestBreaker(1, 50*time.Millisecond)
	b.set.OnStateChange = func(name string, from, to State) {
		if name != "test" {
			t.Errorf("unexpected name %q", name)
		}
		transitions = append(transitions, to)
	}

	_ = b.Execute(func() error { return errFail })
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("expected [Open], got %v", transitions)
	}

	clk.advance(60 * time.Millisecond)
	_ = b.Execute(func() error { return nil })

	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[1] != StateHalfOpen || transitions[2] != StateClosed {
		t.Errorf("expected [Open, HalfOpen, Closed], got %v", transitions)
	}
}
