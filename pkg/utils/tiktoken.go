// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"agentkit/pkg/agent/llm"
)

// Per-message framing overhead of chat-formatted prompts.
const (
	tokensPerMessage = 3
	tokensReplyPrime = 3
)

// TokenCounter provides accurate token counting for different models.
type TokenCounter struct {
	codec tokenizer.Codec
}

var codecs sync.Map //nolint:gochecknoglobals // tokenizer.Encoding -> tokenizer.Codec

// encodingFor maps a model name to its tiktoken encoding. Models from other
// vendors are approximated with cl100k_base.
func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

// NewTokenCounter creates a new token counter for the specified model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc := encodingFor(model)
	if c, ok := codecs.Load(enc); ok {
		return &TokenCounter{codec: c.(tokenizer.Codec)}, nil //nolint:forcetypeassert // only codecs are stored
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	codecs.Store(enc, codec)

	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		// Fallback to character-based estimation (4 chars ≈ 1 token)
		return len(text) / 4
	}

	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}

	return count
}

// CountMessages estimates the prompt size of a chat message list, including
// the per-message framing the chat format adds.
func (tc *TokenCounter) CountMessages(messages []llm.CompletionMessage) int {
	if len(messages) == 0 {
		return 0
	}
	total := tokensReplyPrime
	for i := range messages {
		total += tokensPerMessage
		total += tc.CountTokens(string(messages[i].Role))
		total += tc.CountTokens(messages[i].Content)
	}
	return total
}

// CountTokensSimple counts tokens with the default encoding.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// ValidateTokenLimit checks if text exceeds the specified token limit.
// Returns true if within limit, false if exceeds limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}
