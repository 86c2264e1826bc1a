package metrics

import (
	"sync"
	"time"
)

// InternalRecorder aggregates token usage per agent in memory, for callers
// that want totals without scraping Prometheus.
type InternalRecorder struct {
	mu     sync.RWMutex
	agents map[string]*UsageTotals
}

// UsageTotals is the aggregated usage of one agent.
type UsageTotals struct {
	AgentID          string    `json:"agent_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	ErrorCount       int64     `json:"error_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewInternalRecorder creates an empty in-memory recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{agents: make(map[string]*UsageTotals)}
}

// ObserveRequest records metrics for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals, ok := r.agents[req.AgentID]
	if !ok {
		totals = &UsageTotals{AgentID: req.AgentID}
		r.agents[req.AgentID] = totals
	}

	totals.RequestCount++
	totals.LastUpdated = time.Now()
	if !req.Success {
		totals.ErrorCount++
		return
	}
	totals.PromptTokens += int64(req.PromptTokens)
	totals.CompletionTokens += int64(req.CompletionTokens)
	totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
}

func (r *InternalRecorder) IncThrottle(_, _ string)                {}
func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// Usage returns a copy of the totals for agentID, or nil if none were recorded.
func (r *InternalRecorder) Usage(agentID string) *UsageTotals {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if totals, ok := r.agents[agentID]; ok {
		c := *totals
		return &c
	}
	return nil
}

// AllUsage returns copies of the totals of every agent.
func (r *InternalRecorder) AllUsage() map[string]*UsageTotals {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*UsageTotals, len(r.agents))
	for id, totals := range r.agents {
		c := *totals
		result[id] = &c
	}
	return result
}

// Reset clears all totals.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*UsageTotals)
}
