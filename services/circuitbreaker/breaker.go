package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is refused without being attempted
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Refusing calls
	StateHalfOpen              // Trial calls allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON metrics
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChangeFunc is notified after every transition, outside the breaker lock
type StateChangeFunc func(name string, from, to State)

type CircuitBreaker struct {
	mutex            sync.Mutex
	name             string
	state            State
	failures         int
	lastFailure      time.Time
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
	onStateChange    StateChangeFunc

	totalRequests uint64
	totalFailures uint64
	rejected      uint64
	transitions   map[State]uint64
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		resetTimeout:     timeout,
		now:              time.Now,
		transitions:      make(map[State]uint64),
	}
}

// Named sets the dependency name reported to the state change hook
func (cb *CircuitBreaker) Named(name string) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.name = name
	return cb
}

// OnStateChange installs a transition hook
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = fn
	return cb
}

// WithClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
	return cb
}

// transition must be called with the lock held; the returned func fires the
// hook and must be called after unlocking
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.transitions[to]++

	hook, name := cb.onStateChange, cb.name
	if hook == nil {
		return func() {}
	}
	return func() { hook(name, from, to) }
}

// Allow reports whether a call may proceed. An OPEN breaker whose reset
// timeout has elapsed moves to HALF_OPEN and allows the call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	allowed, notify := cb.allowLocked()
	cb.mutex.Unlock()
	notify()
	return allowed
}

func (cb *CircuitBreaker) allowLocked() (bool, func()) {
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			return true, cb.transition(StateHalfOpen)
		}
		return false, func() {}
	default:
		return true, func() {}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	cb.totalFailures++
	cb.failures++
	cb.lastFailure = cb.now()

	notify := func() {}
	if cb.failures >= cb.failureThreshold {
		notify = cb.transition(StateOpen)
	}
	cb.mutex.Unlock()
	notify()
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	cb.failures = 0
	notify := cb.transition(StateClosed)
	cb.mutex.Unlock()
	notify()
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Execute runs fn if the breaker allows it and records the outcome.
// A refused call returns ErrCircuitOpen and fn is not invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mutex.Lock()
	cb.totalRequests++
	allowed, notify := cb.allowLocked()
	if !allowed {
		cb.rejected++
	}
	cb.mutex.Unlock()
	notify()

	if !allowed {
		return ErrCircuitOpen
	}

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Do is Execute for operations that return a value
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Metrics is a point-in-time view of a breaker, for health reporting
type Metrics struct {
	Name          string           `json:"name"`
	State         State            `json:"state"`
	FailureCount  int              `json:"failure_count"`
	TotalRequests uint64           `json:"total_requests"`
	TotalFailures uint64           `json:"total_failures"`
	Rejected      uint64           `json:"rejected"`
	FailureRate   float64          `json:"failure_rate"`
	LastFailure   *time.Time       `json:"last_failure,omitempty"`
	Transitions   map[State]uint64 `json:"transitions"`
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	transitions := make(map[State]uint64, len(cb.transitions))
	for s, n := range cb.transitions {
		transitions[s] = n
	}

	m := Metrics{
		Name:          cb.name,
		State:         cb.state,
		FailureCount:  cb.failures,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		Rejected:      cb.rejected,
		Transitions:   transitions,
	}
	if cb.totalRequests > 0 {
		m.FailureRate = float64(cb.totalFailures) / float64(cb.totalRequests)
	}
	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		m.LastFailure = &last
	}
	return m
}
