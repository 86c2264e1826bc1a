// Package retry re-issues failed LLM calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/agent/middleware/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`     // including the initial attempt
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay"`   // delay before the first retry
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`           // cap on any single delay
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"` // multiplier per attempt
	Jitter        bool          `yaml:"jitter" json:"jitter"`                 // +/-10% random spread
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier.
//
// Cancellation is final. A deadline is retried because per-request timeouts
// surface as DeadlineExceeded while the caller's context is still live; the
// middleware checks the caller's context before every attempt. An open
// circuit is never retried. Classified provider errors follow
// llmerrors.Error.IsRetryable; unclassified errors are classified by text.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	var llmErr *llmerrors.Error
	if !errors.As(err, &llmErr) {
		_ = errors.As(llmerrors.Classify("", 0, err), &llmErr)
	}
	if llmErr == nil || llmErr.Type == llmerrors.ErrorTypeUnknown {
		return false
	}
	return llmErr.IsRetryable()
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy. A nil classifier selects ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the wait before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec // jitter does not need crypto randomness
	}
	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
