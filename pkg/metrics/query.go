// Package metrics queries a Prometheus server for the LLM usage exported by
// the metrics middleware (llm_requests_total, llm_tokens_total).
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentUsage is the aggregated usage of one agent, optionally for one model.
type AgentUsage struct {
	AgentID          string `json:"agent_id"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
	Errors           int64  `json:"errors"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

// AgentUsage retrieves token and request totals for agentID across all models.
func (q *QueryService) AgentUsage(ctx context.Context, agentID string) (*AgentUsage, error) {
	usage := &AgentUsage{AgentID: agentID}

	fields := []struct {
		query string
		dst   *int64
	}{
		{fmt.Sprintf(`sum(llm_tokens_total{agent_id=%q, type="prompt"})`, agentID), &usage.PromptTokens},
		{fmt.Sprintf(`sum(llm_tokens_total{agent_id=%q, type="completion"})`, agentID), &usage.CompletionTokens},
		{fmt.Sprintf(`sum(llm_requests_total{agent_id=%q})`, agentID), &usage.Requests},
		{fmt.Sprintf(`sum(llm_requests_total{agent_id=%q, status="error"})`, agentID), &usage.Errors},
	}
	for _, f := range fields {
		byModel, err := q.vector(ctx, f.query)
		if err != nil {
			return nil, err
		}
		// An unlabeled sum has a single sample; no samples means no data yet.
		for _, v := range byModel {
			*f.dst = int64(v)
		}
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage, nil
}

// AgentUsageByModel retrieves the same totals broken down by model.
func (q *QueryService) AgentUsageByModel(ctx context.Context, agentID string) (map[string]*AgentUsage, error) {
	result := make(map[string]*AgentUsage)
	entry := func(modelName string) *AgentUsage {
		u, ok := result[modelName]
		if !ok {
			u = &AgentUsage{AgentID: agentID, Model: modelName}
			result[modelName] = u
		}
		return u
	}

	fields := []struct {
		query string
		field func(*AgentUsage) *int64
	}{
		{fmt.Sprintf(`sum by (model) (llm_tokens_total{agent_id=%q, type="prompt"})`, agentID),
			func(u *AgentUsage) *int64 { return &u.PromptTokens }},
		{fmt.Sprintf(`sum by (model) (llm_tokens_total{agent_id=%q, type="completion"})`, agentID),
			func(u *AgentUsage) *int64 { return &u.CompletionTokens }},
		{fmt.Sprintf(`sum by (model) (llm_requests_total{agent_id=%q})`, agentID),
			func(u *AgentUsage) *int64 { return &u.Requests }},
		{fmt.Sprintf(`sum by (model) (llm_requests_total{agent_id=%q, status="error"})`, agentID),
			func(u *AgentUsage) *int64 { return &u.Errors }},
	}
	for _, f := range fields {
		byModel, err := q.vector(ctx, f.query)
		if err != nil {
			return nil, err
		}
		for modelName, v := range byModel {
			*f.field(entry(modelName)) = int64(v)
		}
	}

	for _, u := range result {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return result, nil
}

// vector runs an instant query and returns sample values keyed by their model label.
func (q *QueryService) vector(ctx context.Context, query string) (map[string]float64, error) {
	value, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", query, err)
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s for %s", value.Type(), query)
	}
	out := make(map[string]float64, len(vector))
	for _, sample := range vector {
		out[string(sample.Metric["model"])] = float64(sample.Value)
	}
	return out, nil
}
