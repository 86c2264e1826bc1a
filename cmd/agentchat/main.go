// Package main provides agentchat, an interactive CLI for structured chat agents.
//
// Usage:
//
//	agentchat [flags] <command> [args]
//
// Commands:
//
//	chat      - Talk to an agent; history can be persisted and resumed
//	sessions  - List, show and delete persisted sessions
//	secrets   - Manage the encrypted API key store
//	usage     - Query token usage from Prometheus
//	version   - Print build information
//
// Configuration is read from a YAML file (--config) and AGENTKIT_* environment overrides.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
