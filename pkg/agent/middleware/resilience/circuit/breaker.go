// Package circuit stops calling a provider after repeated failures and probes
// it again once a cool-down has passed.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the provider recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"` // consecutive failures that open the circuit
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"` // probe successes that close it again
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`                     // cool-down before probing
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Error is returned instead of calling the provider while the circuit is open.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker tracks provider health.
type Breaker interface {
	Allow() bool
	Record(success bool)
	GetState() State
	Reset()
}

type breaker struct {
	mu        sync.Mutex
	config    Config
	now       func() time.Time
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a closed circuit breaker.
func New(config Config) Breaker {
	return newBreaker(config, time.Now)
}

func newBreaker(config Config, now func() time.Time) *breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &breaker{config: config, now: now}
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.config.Timeout {
		b.state = HalfOpen
		b.successes = 0
	}
	return b.state != Open
}

// Record updates the breaker with the outcome of a request.
func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.state = Closed
				b.successes = 0
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = b.now()
		b.successes = 0
	}
}

func (b *breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit and clears all counters.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}
