// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"time"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/llmerrors"
	"agentkit/pkg/logx"
)

const (
	logDomain       = "llm"
	maxLoggedPrompt = 2000
	maxDumpedChars  = 10000
)

// Middleware debug-logs every request and response under the "llm" domain
// (DEBUG=1 DEBUG_DOMAINS=llm). Empty responses are always logged in full.
func Middleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				logRequest(ctx, "complete", req, next.GetModelName())
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				if err != nil {
					logx.Debug(ctx, logDomain, "complete failed after %v: %v", time.Since(start), err)
					if llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						logEmptyResponseDebugInfo(ctx, req)
					}
					return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				}
				logx.Debug(ctx, logDomain, "complete finished in %v: stop=%s content=%s",
					time.Since(start), resp.StopReason, llmerrors.SanitizePrompt(resp.Content, maxLoggedPrompt))
				return resp, nil
			},
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				logRequest(ctx, "stream", req, next.GetModelName())
				ch, err := next.Stream(ctx, req)
				if err != nil {
					logx.Debug(ctx, logDomain, "stream failed to start: %v", err)
				}
				return ch, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}

func logRequest(ctx context.Context, op string, req llm.CompletionRequest, defaultModel string) {
	if !logx.IsDebugEnabledForDomain(logDomain) {
		return
	}
	schemaName := "<none>"
	if req.Schema != nil {
		schemaName = req.Schema.Name
	}
	logx.Debug(ctx, logDomain, "%s: model=%s schema=%s messages=%d params=%v",
		op, req.ModelOr(defaultModel), schemaName, len(req.Messages), req.Params)
	for i := range req.Messages {
		logx.Debug(ctx, logDomain, "  [%d] %s: %s", i, req.Messages[i].Role,
			llmerrors.SanitizePrompt(req.Messages[i].Content, maxLoggedPrompt))
	}
}

// logEmptyResponseDebugInfo logs the full prompt that produced an empty response.
func logEmptyResponseDebugInfo(ctx context.Context, req llm.CompletionRequest) {
	logger := logx.NewLogger(logx.AgentIDFrom(ctx))

	logger.Error("EMPTY RESPONSE FROM LLM - prompt follows")
	for i := range req.Messages {
		msg := &req.Messages[i]
		content := msg.Content
		if len(content) > maxDumpedChars {
			content = content[:maxDumpedChars] + "\n[... truncated ...]"
		}
		logger.Error("Message [%d] Role: %s, Content: %s", i, msg.Role, content)
	}
	if req.Schema != nil {
		logger.Error("Output schema: %s", req.Schema.Name)
	}
	logger.Error("Params: %v", req.Params)
}
