// Package resilience wraps calls to the corpus source, the cache backend and
// event handlers with retry, timeout and circuit breaking.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// BreakerOptions tune a CircuitBreaker. Zero values take defaults.
type BreakerOptions struct {
	// Trips is how many counted failures in a row open the breaker.
	Trips int
	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration
	// Probes caps concurrent calls while half-open.
	Probes int
	// Counts decides whether an error counts against the backend. The
	// default ignores context cancellation, since a caller giving up says
	// nothing about the backend.
	Counts func(error) bool
	// Notify is called after every state transition, outside the lock.
	Notify func(name string, from, to State)

	now func() time.Time
}

func countsByDefault(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker sheds calls to a backend that keeps failing.
type CircuitBreaker struct {
	name   string
	opts   BreakerOptions
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	inFlight int
}

func NewCircuitBreaker(name string, opts BreakerOptions) *CircuitBreaker {
	if opts.Trips <= 0 {
		opts.Trips = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Probes <= 0 {
		opts.Probes = 1
	}
	if opts.Counts == nil {
		opts.Counts = countsByDefault
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		opts:   opts,
		logger: slog.Default().With("component", "circuit-breaker", "breaker", name),
	}
}

// Execute runs fn unless the breaker is shedding load.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := Call(cb, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Call runs fn through cb and passes its result through.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	probe, err := cb.admit()
	if err != nil {
		return zero, err
	}
	v, err := fn()
	cb.record(probe, err)
	return v, err
}

// GetState reports the state, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.opts.now().Sub(cb.openedAt) >= cb.opts.Cooldown
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	moved := false
	if cb.state == StateOpen {
		if !cb.cooledDown() {
			wait := cb.opts.Cooldown - cb.opts.now().Sub(cb.openedAt)
			cb.mu.Unlock()
			return false, fmt.Errorf("%w: %s, next probe in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		from, moved = cb.move(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.opts.Probes {
			cb.mu.Unlock()
			return false, fmt.Errorf("%w: %s is probing", ErrCircuitOpen, cb.name)
		}
		cb.inFlight++
		probe = true
	}
	cb.mu.Unlock()
	if moved {
		cb.notify(from, StateHalfOpen)
	}
	return probe, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	failed := err != nil && cb.opts.Counts(err)

	cb.mu.Lock()
	if probe {
		cb.inFlight--
	}
	var from, to State
	moved := false
	switch {
	case !failed && cb.state == StateHalfOpen && probe:
		cb.streak = 0
		from, moved = cb.move(StateClosed)
		to = StateClosed
	case !failed:
		cb.streak = 0
	case cb.state == StateHalfOpen && probe:
		cb.openedAt = cb.opts.now()
		from, moved = cb.move(StateOpen)
		to = StateOpen
	case cb.state == StateClosed:
		cb.streak++
		if cb.streak >= cb.opts.Trips {
			cb.openedAt = cb.opts.now()
			from, moved = cb.move(StateOpen)
			to = StateOpen
		}
	}
	streak := cb.streak
	cb.mu.Unlock()

	if !moved {
		return
	}
	if to == StateOpen {
		cb.logger.Warn("circuit opened", "failures", streak, "error", err)
	} else {
		cb.logger.Info("circuit closed")
	}
	cb.notify(from, to)
}

// move must be called with mu held.
func (cb *CircuitBreaker) move(to State) (State, bool) {
	from := cb.state
	if from == to {
		return from, false
	}
	cb.state = to
	if to != StateHalfOpen {
		cb.inFlight = 0
	}
	return from, true
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.opts.Notify != nil {
		cb.opts.Notify(cb.name, from, to)
	}
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, moved := cb.move(StateClosed)
	cb.streak = 0
	cb.mu.Unlock()
	if moved {
		cb.notify(from, StateClosed)
	}
}
