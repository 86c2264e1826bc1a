package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent"
	"agentkit/pkg/agent/llm"
	"agentkit/pkg/agent/middleware/metrics"
	"agentkit/pkg/persistence"
)

const testModel = "gpt-4o-mini"

func reply(msg string) llm.MockResponse {
	return llm.MockResponse{Content: `{"chat_message": "` + msg + `"}`}
}

func testStore(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()
	db, err := persistence.InitializeDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return persistence.NewDatabaseOperations(db)
}

func testSession(t *testing.T, ops *persistence.DatabaseOperations, resumeID string, responses ...llm.MockResponse) *chatSession {
	t.Helper()
	cfg := agent.Config{Client: llm.NewMockClient(testModel, responses...), Model: testModel}
	s, err := newChatSession(context.Background(), cfg, ops, resumeID)
	require.NoError(t, err)
	return s
}

func TestChatLoopWithoutPersistence(t *testing.T) {
	s := testSession(t, nil, "", reply("hi there"), reply("bye"))
	var out bytes.Buffer

	err := s.loop(context.Background(), strings.NewReader("hello\n\n  \ngoodbye\n"), &out)
	require.NoError(t, err)
	require.NoError(t, s.close(nil))

	assert.Contains(t, out.String(), "assistant> hi there\n")
	assert.Contains(t, out.String(), "assistant> bye\n")
	assert.NotContains(t, out.String(), "you> ", "no prompt when not interactive")
	assert.Equal(t, 4, s.agent.History().MessageCount())
}

func TestChatSessionRequiresStoreToResume(t *testing.T) {
	cfg := agent.Config{Client: llm.NewMockClient(testModel), Model: testModel}
	_, err := newChatSession(context.Background(), cfg, nil, "abc")
	require.Error(t, err)
}

func TestChatPersistsAndResumes(t *testing.T) {
	ctx := context.Background()
	ops := testStore(t)

	first := testSession(t, ops, "", reply("nice to meet you"))
	require.NoError(t, first.loop(ctx, strings.NewReader("I am Ada\n/exit\nnever sent\n"), &bytes.Buffer{}))
	require.NoError(t, first.close(&metrics.UsageTotals{PromptTokens: 30, CompletionTokens: 7}))

	stored, err := ops.GetSession(ctx, first.id)
	require.NoError(t, err)
	assert.Equal(t, persistence.SessionStatusClosed, stored.Status)
	assert.Equal(t, agentName, stored.AgentName)
	assert.Equal(t, testModel, stored.Model)
	assert.Equal(t, int64(30), stored.PromptTokens)

	second := testSession(t, ops, first.id, reply("you are Ada"))
	assert.Equal(t, 2, second.agent.History().MessageCount())

	var out bytes.Buffer
	require.NoError(t, second.loop(ctx, strings.NewReader("who am I?\n"), &out))
	require.NoError(t, second.close(nil))
	assert.Contains(t, out.String(), "you are Ada")

	h, err := ops.LoadHistory(ctx, first.id)
	require.NoError(t, err)
	assert.Equal(t, 4, h.MessageCount())
}

func TestResumeUnknownSession(t *testing.T) {
	cfg := agent.Config{Client: llm.NewMockClient(testModel), Model: testModel}
	_, err := newChatSession(context.Background(), cfg, testStore(t), "missing")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func TestChatStreamingOutput(t *testing.T) {
	s := testSession(t, nil, "", llm.MockResponse{Chunks: []string{`{"chat_message": "Hel`, `lo wor`, `ld"}`}})
	s.stream = true
	var out bytes.Buffer

	require.NoError(t, s.loop(context.Background(), strings.NewReader("hi\n"), &out))
	assert.Equal(t, "assistant> Hello world\n", out.String())
}

func TestChatFailedTurnKeepsSessionAlive(t *testing.T) {
	s := testSession(t, nil, "", llm.MockResponse{Err: errors.New("upstream down")}, reply("recovered"))
	var out bytes.Buffer

	require.NoError(t, s.loop(context.Background(), strings.NewReader("one\ntwo\n"), &out))
	assert.Contains(t, out.String(), "error: upstream down")
	assert.Contains(t, out.String(), "assistant> recovered")
}

func TestChatCommands(t *testing.T) {
	s := testSession(t, nil, "", reply("pong"))
	var out bytes.Buffer

	input := "ping\n/tokens\n/history\n/bogus\n/reset\n/history\n/quit\n"
	require.NoError(t, s.loop(context.Background(), strings.NewReader(input), &out))

	text := out.String()
	assert.Contains(t, text, "tokens in context")
	assert.Contains(t, text, "BasicChatOutput")
	assert.Contains(t, text, "pong")
	assert.Contains(t, text, "error: unknown command /bogus")
	assert.Contains(t, text, "history cleared")
	assert.Contains(t, text, "(empty)")
	assert.Zero(t, s.agent.History().MessageCount())
}

func TestPrintDelta(t *testing.T) {
	tests := []struct {
		name    string
		printed string
		next    string
		want    string
	}{
		{"append", "Hel", "Hello", "lo"},
		{"unchanged", "Hello", "Hello", ""},
		{"rewritten", "Hello", "Help", "\nHelp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := printDelta(&out, tt.printed, tt.next)
			assert.Equal(t, tt.next, got)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
