package connpool

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed admits all calls and counts consecutive failures.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits trial calls; one failure reopens the circuit.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
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

// breaker is the circuit breaker state machine guarding the vector store.
//
// closed -> open      after failureThreshold consecutive failures
// open -> half-open   once recoveryTimeout has elapsed since the last failure
// half-open -> closed after successThreshold consecutive successes
// half-open -> open   on any failure
type breaker struct {
	mu                   sync.Mutex
	failureThreshold     int
	successThreshold     int
	recoveryTimeout      time.Duration
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	transitions          int64
	now                  func() time.Time
}

func newBreaker(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *breaker {
	return &breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// allow reports whether a call may proceed, moving open -> half-open when
// the recovery timeout has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) > b.recoveryTimeout {
			b.state = StateHalfOpen
			b.consecutiveSuccesses = 0
			b.transitions++
		} else {
			return false
		}
	}
	return true
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = StateClosed
			b.transitions++
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.transitions++
		}
	case StateHalfOpen:
		// Failed the trial call, back to open.
		b.state = StateOpen
		b.transitions++
	}
}

func (b *breaker) snapshot() (BreakerState, int, time.Time, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures, b.lastFailure, b.transitions
}
