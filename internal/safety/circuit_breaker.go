package safety

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects work
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening
	SuccessThreshold uint32        // half-open successes needed to close
	Cooldown         time.Duration // how long the breaker stays open
}

// CircuitBreaker stops calling a failing upstream for a cooldown period.
// Feeds wrap their fetches in one so a dead signal source is not hammered
// every poll interval.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	openedAt      time.Time
	now           func() time.Time
	onStateChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown == 0 {
		config.Cooldown = time.Minute
	}
	return &CircuitBreaker{name: name, config: config, now: time.Now}
}

// Name identifies the protected upstream
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange registers a callback fired after every transition
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitBreakerState)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Call runs fn unless the breaker is open
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// State returns the current state, moving open to half-open once the
// cooldown has passed
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	state := cb.state
	expired := state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown
	cb.mu.Unlock()

	switch {
	case state != StateOpen:
		return true
	case expired:
		cb.transition(StateHalfOpen)
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	var next CircuitBreakerState
	changed := false
	if err != nil {
		cb.failures++
		cb.successes = 0
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			next, changed = StateOpen, cb.state != StateOpen
			if !changed {
				cb.openedAt = cb.now()
			}
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				next, changed = StateClosed, true
			}
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.transition(next)
	}
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	cb.mu.Lock()
	from := cb.state
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	}
	callback := cb.onStateChange
	cb.mu.Unlock()

	// callback runs without the lock held
	if callback != nil && from != to {
		callback(cb.name, from, to)
	}
}
