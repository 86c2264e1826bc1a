package agent

import "errors"

var (
	// ErrMissingClient indicates a Config without an LLM client.
	ErrMissingClient = errors.New("agent config: client is required")

	// ErrMissingModel indicates a Config without a model name.
	ErrMissingModel = errors.New("agent config: model is required")

	// ErrUnsupportedProvider indicates a model whose provider has no adapter.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)
