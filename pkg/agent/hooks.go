package agent

import (
	"context"
	"strings"
	"sync"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/logx"
)

// HookEvent names a point in the completion lifecycle.
type HookEvent string

const (
	// HookCompletionRequest fires before the client is called.
	HookCompletionRequest HookEvent = "completion:kwargs"
	// HookCompletionResponse fires after the client returned a response.
	// For streams it fires once the stream is exhausted, with the joined content.
	HookCompletionResponse HookEvent = "completion:response"
	// HookCompletionError fires when the client call fails.
	HookCompletionError HookEvent = "completion:error"
	// HookParseError fires when a response cannot be decoded or validated.
	HookParseError HookEvent = "parse:error"
)

// HookData is passed to every hook. Response is set for
// HookCompletionResponse, Err for the error events.
type HookData struct {
	Event    HookEvent
	Request  llm.CompletionRequest
	Response llm.CompletionResponse
	Err      error
}

// Hook observes a lifecycle event. Hooks cannot change the outcome of a call.
type Hook func(ctx context.Context, data HookData)

// HookID identifies a registered hook for UnregisterHook.
type HookID uint64

type hookEntry struct {
	id HookID
	fn Hook
}

// hookRegistry is guarded by a mutex because stream hooks fire from the relay goroutine.
type hookRegistry struct {
	mu      sync.RWMutex
	enabled bool
	nextID  HookID
	hooks   map[HookEvent][]hookEntry
	logger  *logx.Logger
}

func newHookRegistry(logger *logx.Logger) *hookRegistry {
	return &hookRegistry{
		enabled: true,
		hooks:   make(map[HookEvent][]hookEntry),
		logger:  logger,
	}
}

func (r *hookRegistry) register(event HookEvent, fn Hook) HookID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.hooks[event] = append(r.hooks[event], hookEntry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *hookRegistry) unregister(event HookEvent, id HookID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.hooks[event]
	for i := range entries {
		if entries[i].id == id {
			r.hooks[event] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *hookRegistry) clear(events ...HookEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(events) == 0 {
		clear(r.hooks)
		return
	}
	for _, event := range events {
		delete(r.hooks, event)
	}
}

func (r *hookRegistry) setEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

func (r *hookRegistry) isEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

func (r *hookRegistry) dispatch(ctx context.Context, data HookData) {
	r.mu.RLock()
	if !r.enabled {
		r.mu.RUnlock()
		return
	}
	entries := append([]hookEntry(nil), r.hooks[data.Event]...)
	r.mu.RUnlock()

	for _, e := range entries {
		r.call(ctx, e, data)
	}
}

func (r *hookRegistry) call(ctx context.Context, e hookEntry, data HookData) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hook %d for %s panicked: %v", e.id, data.Event, p)
		}
	}()
	e.fn(ctx, data)
}

// middleware fires the completion hooks around every client call.
func (r *hookRegistry) middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				r.dispatch(ctx, HookData{Event: HookCompletionRequest, Request: req})
				resp, err := next.Complete(ctx, req)
				if err != nil {
					r.dispatch(ctx, HookData{Event: HookCompletionError, Request: req, Err: err})
					return resp, err //nolint:wrapcheck // upstream errors pass through unchanged
				}
				r.dispatch(ctx, HookData{Event: HookCompletionResponse, Request: req, Response: resp})
				return resp, nil
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				r.dispatch(ctx, HookData{Event: HookCompletionRequest, Request: req})
				upstream, err := next.Stream(ctx, req)
				if err != nil {
					r.dispatch(ctx, HookData{Event: HookCompletionError, Request: req, Err: err})
					return nil, err //nolint:wrapcheck // upstream errors pass through unchanged
				}

				out := make(chan llm.StreamChunk)
				go func() {
					defer close(out)
					var content strings.Builder
					for chunk := range upstream {
						content.WriteString(chunk.Content)
						if chunk.Error != nil {
							r.dispatch(ctx, HookData{Event: HookCompletionError, Request: req, Err: chunk.Error})
						}
						select {
						case out <- chunk:
						case <-ctx.Done():
							return
						}
						if chunk.Error != nil {
							return
						}
					}
					r.dispatch(ctx, HookData{
						Event:    HookCompletionResponse,
						Request:  req,
						Response: llm.CompletionResponse{Content: content.String()},
					})
				}()
				return out, nil
			},
			next.GetModelName,
		)
	}
}
