// Package breaker implements a consecutive-failure circuit breaker used in
// front of the backend API and the Redis update publisher.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // Normal operation, requests pass through
	StateOpen     State = 1 // Circuit tripped, requests rejected immediately
	StateHalfOpen State = 2 // Testing, one trial call allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configure a Breaker.
type Settings struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called on transitions, with the breaker lock held.
	OnStateChange func(name string, from, to State)
}

// Breaker implements a simple circuit breaker pattern.
// After MaxFailures consecutive failures, the breaker opens and rejects all
// calls for ResetTimeout. After the timeout, it enters half-open state and
// allows one trial call through. If the trial succeeds, the breaker closes;
// if it fails, it reopens.
type Breaker struct {
	mu       sync.Mutex
	set      Settings
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time

	listeners []func(name string, from, to State)
}

// New creates a breaker. MaxFailures below 1 is treated as 1.
func New(s Settings) *Breaker {
	if s.MaxFailures < 1 {
		s.MaxFailures = 1
	}
	return &Breaker{set: s, state: StateClosed, now: time.Now}
}

// AddListener registers fn to be called on every transition, after
// Settings.OnStateChange. fn runs with the breaker lock held and must not
// call back into the breaker.
func (b *Breaker) AddListener(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Execute runs fn through the breaker.
// Returns ErrCircuitOpen without calling fn if the breaker is open and the
// reset timeout hasn't elapsed, or if a half-open trial call is already running.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.set.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	wasTrial := b.state == StateHalfOpen
	b.probing = false

	if err != nil && b.countable(err) {
		b.failures++
		if wasTrial || b.failures >= b.set.MaxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return err
	}

	if wasTrial {
		b.transition(StateClosed)
	}
	b.failures = 0
	return err
}

// CurrentState returns the current circuit breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) countable(err error) bool {
	if b.set.IsFailure == nil {
		return true
	}
	return b.set.IsFailure(err)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.set.OnStateChange != nil {
		b.set.OnStateChange(b.set.Name, from, to)
	}
	for _, fn := range b.listeners {
		fn(b.set.Name, from, to)
	}
}
