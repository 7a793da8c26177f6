// Package breaker implements a per-destination circuit breaker guarding
// calls to an unreliable external delivery path.
package breaker

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State of a circuit breaker.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// Breaker is a three-state circuit breaker. All state lives in atomics so
// Allow never blocks callers, even under contention across in-flight
// delivery attempts.
//
// CLOSED: requests pass; consecutive failures reaching the threshold open
// the circuit. OPEN: requests are rejected until the open timeout elapses
// since the last failure, then a single probe is let through (HALF_OPEN).
// HALF_OPEN: a recorded success closes the circuit, a failure reopens it.
type Breaker struct {
	name          string
	state         atomic.Int32
	failures      atomic.Int32
	lastFailureNs atomic.Int64

	threshold   int32
	openTimeout time.Duration
	now         func() time.Time

	onStateChange func(from, to State)
	log           *zap.Logger
}

type Option func(*Breaker)

// WithClock overrides the time source, used by tests to simulate the open
// timeout without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = int32(n) }
}

func WithOpenTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.openTimeout = d }
}

// WithStateChange registers a hook invoked after every state transition,
// e.g. to update a metrics gauge.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(b *Breaker) { b.log = log }
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		threshold:   defaultFailureThreshold,
		openTimeout: defaultOpenTimeout,
		now:         time.Now,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// Allow reports whether a request may proceed. It never blocks. In the
// OPEN state, once the open timeout has elapsed since the last failure,
// the caller that wins the transition gets the half-open probe; callers
// arriving while the probe outcome is pending also observe HALF_OPEN and
// are allowed through.
func (b *Breaker) Allow() bool {
	switch State(b.state.Load()) {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		elapsed := b.now().Sub(time.Unix(0, b.lastFailureNs.Load()))
		if elapsed < b.openTimeout {
			return false
		}
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.transitioned(StateOpen, StateHalfOpen)
			return true
		}
		// Lost the race; another caller owns the transition.
		return State(b.state.Load()) == StateHalfOpen
	}
	return false
}

// RecordSuccess resets the failure counter and, when probing, closes the
// circuit.
func (b *Breaker) RecordSuccess() {
	if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
		b.failures.Store(0)
		b.transitioned(StateHalfOpen, StateClosed)
		return
	}
	if State(b.state.Load()) == StateClosed {
		b.failures.Store(0)
	}
}

// RecordFailure refreshes the failure timestamp, reopens the circuit when
// probing, and opens it once consecutive failures reach the threshold.
func (b *Breaker) RecordFailure() {
	b.lastFailureNs.Store(b.now().UnixNano())

	if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
		b.transitioned(StateHalfOpen, StateOpen)
		return
	}

	if State(b.state.Load()) == StateClosed {
		if b.failures.Add(1) >= b.threshold {
			if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
				b.transitioned(StateClosed, StateOpen)
			}
		}
	}
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) ConsecutiveFailures() int {
	return int(b.failures.Load())
}

func (b *Breaker) transitioned(from, to State) {
	b.log.Info("circuit breaker state change",
		zap.String("breaker", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
