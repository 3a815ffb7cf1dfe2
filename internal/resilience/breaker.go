package resilience

import "time"

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker isolates one logical service. Transitions:
// closed -> open after failureThreshold consecutive failures;
// open -> half_open once recoveryTimeout has elapsed since the last failure;
// half_open -> closed on the next success, half_open -> open on the next failure.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	lastTransitionAt    time.Time
}

func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// Evaluate applies the time-based open -> half_open transition and returns the
// current state. The transition happens on the first evaluation after the
// recovery timeout, not on a background timer.
func (b *Breaker) Evaluate(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.lastFailureAt) >= b.recoveryTimeout {
		b.transitionTo(StateHalfOpen, now)
	}
	return b.state
}

// RecordSuccess zeroes the consecutive-failure counter and closes a half-open
// circuit.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed, now)
	}
}

// RecordFailure counts the failure and opens the circuit when the threshold is
// reached or when probing in half-open state.
func (b *Breaker) RecordFailure(now time.Time) {
	b.consecutiveFailures++
	b.lastFailureAt = now

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen, now)
	}
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	return b.consecutiveFailures
}

// CurrentState returns the state without applying time-based transitions.
func (b *Breaker) CurrentState() State {
	return b.state
}

func (b *Breaker) transitionTo(state State, now time.Time) {
	b.state = state
	b.lastTransitionAt = now
}
