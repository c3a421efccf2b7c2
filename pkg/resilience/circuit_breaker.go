package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned instead of calling a backend whose circuit is open.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, retryAfter)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	OpenTimeout      time.Duration
	// HalfOpenMaxFlight caps concurrent probes while half-open.
	HalfOpenMaxFlight int

	// IsFailure decides whether an error counts against the backend.
	// Nil counts every error. context.Canceled is never counted.
	IsFailure func(error) bool

	// OnStateChange is called with the breaker lock held; it must not call back into the breaker.
	OnStateChange func(name string, from, to CircuitBreakerState)
}

// Counts is a snapshot of what the breaker has seen since it was created.
type Counts struct {
	Requests  uint64
	Failures  uint64
	Rejected  uint64
	Successes uint64
}

// CircuitBreaker stops calling a backend after repeated failures and lets
// a limited number of probes through once OpenTimeout has passed.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state       CircuitBreakerState
	consecutive int // failures while closed, successes while half-open
	openUntil   time.Time
	probes      int
	counts      Counts
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}

	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked(time.Now())
	return cb.state
}

// Counts returns a copy of the request counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Execute runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(probe, err)
	return err
}

// admit reports whether the call is a half-open probe, or rejects it.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.expireLocked(now)

	switch cb.state {
	case CircuitOpen:
		cb.counts.Rejected++
		return false, cb.openErrLocked(now)
	case CircuitHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxFlight {
			cb.counts.Rejected++
			return false, cb.openErrLocked(now)
		}
		cb.probes++
		cb.counts.Requests++
		return true, nil
	default:
		cb.counts.Requests++
		return false, nil
	}
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.probes > 0 {
		cb.probes--
	}

	if err != nil && !cb.countsAsFailure(err) {
		return
	}

	if err != nil {
		cb.counts.Failures++
		switch cb.state {
		case CircuitHalfOpen:
			cb.transitionLocked(CircuitOpen)
		case CircuitClosed:
			cb.consecutive++
			if cb.consecutive >= cb.cfg.FailureThreshold {
				cb.transitionLocked(CircuitOpen)
			}
		}
		return
	}

	cb.counts.Successes++
	switch cb.state {
	case CircuitHalfOpen:
		cb.consecutive++
		if cb.consecutive >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
		}
	case CircuitClosed:
		cb.consecutive = 0
	}
}

// expireLocked moves an open circuit to half-open once its timeout has passed.
func (cb *CircuitBreaker) expireLocked(now time.Time) {
	if cb.state == CircuitOpen && !now.Before(cb.openUntil) {
		cb.transitionLocked(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(next CircuitBreakerState) {
	prev := cb.state
	cb.state = next
	cb.consecutive = 0
	cb.probes = 0
	if next == CircuitOpen {
		cb.openUntil = time.Now().Add(cb.cfg.OpenTimeout)
	}
	if prev != next && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, next)
	}
}

func (cb *CircuitBreaker) openErrLocked(now time.Time) error {
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: max(cb.openUntil.Sub(now), 0),
	}
}
