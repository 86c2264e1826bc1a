package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
)

func startWorker(t *testing.T, ops *DatabaseOperations) chan *Request {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan *Request, 8)
	done := make(chan struct{})
	go func() {
		NewWorker(ops).Run(ctx, ch)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ch
}

// flush sends a request with a response channel; the worker handles requests in order.
func flush(t *testing.T, ch chan<- *Request, req *Request) error {
	t.Helper()
	resp := make(chan error, 1)
	req.Response = resp
	ch <- req
	return <-resp
}

func TestWorkerPersistsQueuedWrites(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)
	_, err := ops.CreateSession(ctx, "s1", "chat", "gpt-4o")
	require.NoError(t, err)
	ch := startWorker(t, ops)

	h := sampleHistory(t, "hello")
	PersistHistory("s1", h, ch)
	// Later mutation must not leak into the queued snapshot.
	require.NoError(t, h.AddMessage(llm.RoleUser, "extra"))
	PersistUsage("s1", 12, 3, ch)

	require.NoError(t, flush(t, ch, &Request{
		Operation: OpUpdateSessionStatus,
		Data:      &UpdateSessionStatusRequest{SessionID: "s1", Status: SessionStatusClosed},
	}))

	snap, err := ops.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.MessageCount)

	s, err := ops.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), s.PromptTokens)
	assert.Equal(t, int64(3), s.CompletionTokens)
	assert.Equal(t, SessionStatusClosed, s.Status)
}

func TestWorkerReportsErrors(t *testing.T) {
	ch := startWorker(t, testOps(t))

	err := flush(t, ch, &Request{Operation: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown persistence operation")

	err = flush(t, ch, &Request{Operation: OpAddUsage, Data: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data")

	err = flush(t, ch, &Request{Operation: OpAddUsage, Data: &AddUsageRequest{SessionID: "missing"}})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPersistHelpersIgnoreMissingInputs(t *testing.T) {
	ch := make(chan *Request, 1)

	PersistHistory("", sampleHistory(t, "x"), ch)
	PersistHistory("s1", nil, ch)
	PersistUsage("", 1, 1, ch)
	PersistSessionStatus("", SessionStatusClosed, ch)
	PersistSessionStatus("s1", SessionStatusClosed, nil)

	assert.Empty(t, ch)
}
