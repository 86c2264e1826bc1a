// Package structured turns chat-completion output into typed schema values.
//
// Create requests a complete response and decodes it; CreatePartial streams
// the response and yields a progressively filled value as JSON arrives.
// Partial values are decoded from repaired JSON prefixes. The final value
// must be complete JSON from a response the provider finished.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/logx"
	"agentkit/pkg/schema"
)

var (
	// ErrDecode is returned when a response cannot be decoded into the output type.
	ErrDecode = errors.New("failed to decode structured response")
	// ErrIncomplete is returned when the output was cut off by the token
	// limit or the stream ended before the provider finished it.
	ErrIncomplete = errors.New("incomplete structured response")
)

const logDomain = "structured"

// Attach sets the output schema of T on req.
func Attach[T schema.IOSchema](req *llm.CompletionRequest) (*schema.Definition, error) {
	def, err := schema.Define[T]()
	if err != nil {
		return nil, err
	}
	req.Schema = &llm.OutputSchema{
		Name:        def.Name,
		Description: def.Description,
		Schema:      def.Schema(),
	}
	return def, nil
}

// Create performs a completion constrained to T's schema and returns the
// decoded, validated value. Client errors are returned unchanged.
func Create[T schema.IOSchema](ctx context.Context, client llm.LLMClient, req llm.CompletionRequest) (T, error) {
	var zero T

	def, err := Attach[T](&req)
	if err != nil {
		return zero, err
	}

	logx.Debug(ctx, logDomain, "create %s: model=%s messages=%d", def.Name, req.Model, len(req.Messages))

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return zero, err //nolint:wrapcheck // upstream errors pass through unchanged
	}
	if llm.IsTruncated(resp.StopReason) {
		return zero, fmt.Errorf("%w: %s: stop reason %q", ErrIncomplete, def.Name, resp.StopReason)
	}

	return decodeFinal[T](ctx, def, resp.Content)
}

// CreatePartial streams a completion constrained to T's schema. Each
// distinct intermediate value is yielded as it becomes decodable; the last
// value yielded is the complete, validated result. Partial values are not
// validated. Breaking out of the loop cancels the underlying stream.
func CreatePartial[T schema.IOSchema](ctx context.Context, client llm.LLMClient, req llm.CompletionRequest) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		def, err := Attach[T](&req)
		if err != nil {
			yield(zero, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logx.Debug(ctx, logDomain, "stream %s: model=%s messages=%d", def.Name, req.Model, len(req.Messages))

		stream, err := client.Stream(ctx, req)
		if err != nil {
			yield(zero, err)
			return
		}

		var (
			buf  strings.Builder
			last string
			done *llm.StreamChunk
		)
		for chunk := range stream {
			if chunk.Error != nil {
				yield(zero, chunk.Error)
				return
			}
			if chunk.Content != "" {
				buf.WriteString(chunk.Content)
				if v, canonical, ok := decodePartial[T](buf.String()); ok && canonical != last {
					last = canonical
					if !yield(v, nil) {
						return
					}
				}
			}
			if chunk.Done {
				done = &chunk
				break
			}
		}
		if err := ctx.Err(); err != nil {
			yield(zero, err)
			return
		}
		switch {
		case done == nil:
			yield(zero, fmt.Errorf("%w: %s: stream ended before completion", ErrIncomplete, def.Name))
			return
		case llm.IsTruncated(done.StopReason):
			yield(zero, fmt.Errorf("%w: %s: stop reason %q", ErrIncomplete, def.Name, done.StopReason))
			return
		}

		final, err := decodeFinal[T](ctx, def, buf.String())
		if err != nil {
			yield(zero, err)
			return
		}
		if schema.String(final) != last {
			yield(final, nil)
		}
	}
}

// decodePartial repairs a JSON prefix and decodes it. It reports false while
// the prefix does not yet contain an object.
func decodePartial[T any](content string) (T, string, bool) {
	var v T
	body := extractJSON(content)
	if body == "" {
		return v, "", false
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return v, "", false
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return v, "", false
	}
	return v, schema.String(v), true
}

func decodeFinal[T schema.IOSchema](ctx context.Context, def *schema.Definition, content string) (T, error) {
	var v T

	body := extractJSON(content)
	if body == "" {
		return v, fmt.Errorf("%w: %s: no JSON object in response", ErrDecode, def.Name)
	}

	// The first complete value wins; trailing text after it is ignored.
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&raw); err != nil {
		logx.Debug(ctx, logDomain, "decode %s failed: %v", def.Name, err)
		return v, fmt.Errorf("%w: %s: %w", ErrDecode, def.Name, err)
	}
	if err := def.ValidateResponse(raw); err != nil {
		return v, err //nolint:wrapcheck // already wraps schema.ErrValidation
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", ErrDecode, def.Name, err)
	}
	return v, nil
}

// extractJSON drops any text before the first object, such as a markdown
// code fence, and a trailing fence if present.
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	body := content[start:]
	if trimmed := strings.TrimRightFunc(body, unicode.IsSpace); strings.HasSuffix(trimmed, "```") {
		body = strings.TrimSuffix(trimmed, "```")
	}
	return body
}
