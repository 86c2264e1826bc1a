package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/persistence"
)

func TestWriteSessionTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeSessionTable(&out, nil))
	assert.Equal(t, "no sessions\n", out.String())

	out.Reset()
	require.NoError(t, writeSessionTable(&out, []persistence.Session{{
		ID:               "abc",
		Model:            "gpt-4o",
		Status:           persistence.SessionStatusClosed,
		PromptTokens:     10,
		CompletionTokens: 5,
		UpdatedAt:        time.Now(),
	}}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "SESSION"))
	assert.Equal(t, []string{"abc", "gpt-4o", "closed", "15"}, strings.Fields(lines[1])[:4])
}

func TestRequireStoreWithoutPath(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	cfg.Persistence.DBPath = ""

	_, _, err = requireStore(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history database configured")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.True(t, strings.HasPrefix(out.String(), "agentchat dev (commit none"))
}
