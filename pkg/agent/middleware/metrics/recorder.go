// Package metrics records latency, token usage and failures of LLM calls.
package metrics

import (
	"time"
)

// Operation labels.
const (
	OpComplete = "complete"
	OpStream   = "stream"
)

// Request describes one finished LLM call.
type Request struct {
	Model            string
	AgentID          string
	Operation        string
	PromptTokens     int
	CompletionTokens int
	Success          bool
	ErrorType        string
	Duration         time.Duration
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(r Request)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveRequest(Request)                 {}
func (NoopRecorder) IncThrottle(_, _ string)                {}
func (NoopRecorder) ObserveQueueWait(string, time.Duration) {}

// Multi fans every observation out to all recorders.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

type multi []Recorder

func (m multi) ObserveRequest(r Request) {
	for _, rec := range m {
		rec.ObserveRequest(r)
	}
}

func (m multi) IncThrottle(model, reason string) {
	for _, rec := range m {
		rec.IncThrottle(model, reason)
	}
}

func (m multi) ObserveQueueWait(model string, d time.Duration) {
	for _, rec := range m {
		rec.ObserveQueueWait(model, d)
	}
}
