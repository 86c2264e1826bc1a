// Package agent provides a structured-output agent over a chat-completion client.
//
// This package serves as the public API for agent functionality with the following structure:
//   - Agent, a generic orchestrator bound to an input and an output schema
//   - Synchronous, streaming and asynchronous run variants
//   - Hooks observing completion requests, responses and failures
//   - LLM client factory wiring provider adapters into the middleware chain
//
// Provider adapters are kept private under internal/llmimpl.
package agent
