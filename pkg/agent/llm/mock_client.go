package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockResponse scripts one call of a MockClient. Stream sends Chunks when
// set and Content as a single chunk otherwise. A non-nil Err fails the call.
// StopReason defaults to "stop"; Dropped closes the stream without a Done chunk.
type MockResponse struct {
	Content    string
	Chunks     []string
	Err        error
	StopReason string
	Dropped    bool
}

func (r MockResponse) stopReason() string {
	if r.StopReason == "" {
		return "stop"
	}
	return r.StopReason
}

// MockClient provides a controllable implementation of LLMClient for testing.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	next      int
	requests  []CompletionRequest
}

// NewMockClient creates a mock client that replays responses in order.
func NewMockClient(model string, responses ...MockResponse) *MockClient {
	return &MockClient{model: model, responses: responses}
}

// Push appends scripted responses.
func (m *MockClient) Push(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *MockClient) pop(req CompletionRequest) (MockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.next >= len(m.responses) {
		return MockResponse{}, fmt.Errorf("mock client: no more responses")
	}
	resp := m.responses[m.next]
	m.next++
	return resp, nil
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	resp, err := m.pop(req)
	if err != nil {
		return CompletionResponse{}, err
	}
	if resp.Err != nil {
		return CompletionResponse{}, resp.Err
	}

	content := resp.Content
	if content == "" {
		content = strings.Join(resp.Chunks, "")
	}
	return CompletionResponse{Content: content, StopReason: resp.stopReason()}, nil
}

// Stream sends the next scripted response as chunks. Sending stops when ctx is done.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.pop(req)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	chunks := resp.Chunks
	if len(chunks) == 0 {
		chunks = []string{resp.Content}
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			chunk := StreamChunk{Content: c}
			if i == len(chunks)-1 && !resp.Dropped {
				chunk.Done = true
				chunk.StopReason = resp.stopReason()
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// GetModelName returns the model name the mock was created with.
func (m *MockClient) GetModelName() string {
	return m.model
}

// Requests returns the requests received so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockClient) LastRequest() CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return CompletionRequest{}
	}
	return m.requests[len(m.requests)-1]
}
