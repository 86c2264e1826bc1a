package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/history"
)

// setupTestDB creates an in-memory SQLite database with the current schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitializeDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testOps returns operations with a clock that advances one second per call.
func testOps(t *testing.T) *DatabaseOperations {
	t.Helper()
	ops := NewDatabaseOperations(setupTestDB(t))
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ops.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return ops
}

func sampleHistory(t *testing.T, turns ...string) *history.History {
	t.Helper()
	h := history.New()
	for _, msg := range turns {
		h.InitializeTurn()
		require.NoError(t, h.AddMessage(llm.RoleUser, map[string]string{"chat_message": msg}))
		require.NoError(t, h.AddMessage(llm.RoleAssistant, map[string]string{"chat_message": "re: " + msg}))
	}
	return h
}

func TestInitializeDatabaseSetsVersion(t *testing.T) {
	db := setupTestDB(t)

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Re-running is a no-op.
	require.NoError(t, initializeSchemaWithMigrations(db))
}

func TestMigrationFromVersion1(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = GetSchemaVersion(db)
	require.NoError(t, err)
	require.NoError(t, execAll(db, schemaV1))
	require.NoError(t, setSchemaVersion(db, 1))

	require.NoError(t, initializeSchemaWithMigrations(db))

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	ops := NewDatabaseOperations(db)
	_, err = ops.CreateSession(context.Background(), "s1", "chat", "gpt-4o")
	require.NoError(t, err)
	require.NoError(t, ops.AddUsage(context.Background(), "s1", 10, 5))
}

func TestRejectsNewerSchema(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, setSchemaVersion(db, CurrentSchemaVersion+1))

	err := initializeSchemaWithMigrations(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)

	created, err := ops.CreateSession(ctx, "s1", "chat", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusActive, created.Status)

	_, err = ops.CreateSession(ctx, "s1", "chat", "claude-sonnet-4-5")
	require.Error(t, err, "duplicate id")

	require.NoError(t, ops.AddUsage(ctx, "s1", 100, 20))
	require.NoError(t, ops.AddUsage(ctx, "s1", 50, 10))
	require.NoError(t, ops.UpdateSessionStatus(ctx, "s1", SessionStatusClosed))

	got, err := ops.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "chat", got.AgentName)
	assert.Equal(t, "claude-sonnet-4-5", got.Model)
	assert.Equal(t, SessionStatusClosed, got.Status)
	assert.Equal(t, int64(150), got.PromptTokens)
	assert.Equal(t, int64(30), got.CompletionTokens)
	assert.True(t, got.UpdatedAt.After(got.StartedAt))
}

func TestSessionNotFound(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)

	_, err := ops.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, ops.UpdateSessionStatus(ctx, "missing", SessionStatusClosed), ErrSessionNotFound)
	require.ErrorIs(t, ops.AddUsage(ctx, "missing", 1, 1), ErrSessionNotFound)
	require.ErrorIs(t, ops.DeleteSession(ctx, "missing"), ErrSessionNotFound)

	_, err = ops.SaveHistory(ctx, "missing", sampleHistory(t, "hi"))
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := ops.CreateSession(ctx, id, "chat", "gpt-4o")
		require.NoError(t, err)
	}
	// Touching "a" makes it the most recent.
	_, err := ops.SaveHistory(ctx, "a", sampleHistory(t, "hi"))
	require.NoError(t, err)

	all, err := ops.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := ops.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSaveAndLoadHistory(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)
	_, err := ops.CreateSession(ctx, "s1", "chat", "gpt-4o")
	require.NoError(t, err)

	_, err = ops.LoadHistory(ctx, "s1")
	require.ErrorIs(t, err, ErrNoSnapshot)

	first := sampleHistory(t, "one")
	_, err = ops.SaveHistory(ctx, "s1", first)
	require.NoError(t, err)

	second := sampleHistory(t, "one", "two")
	snap, err := ops.SaveHistory(ctx, "s1", second)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.MessageCount)
	assert.Equal(t, second.CurrentTurnID(), snap.TurnID)

	restored, err := ops.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, second.CurrentTurnID(), restored.CurrentTurnID())
	assert.Equal(t, second.CompletionMessages(), restored.CompletionMessages())
}

func TestPruneSnapshots(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)
	_, err := ops.CreateSession(ctx, "s1", "chat", "gpt-4o")
	require.NoError(t, err)

	var last *Snapshot
	for i := range 4 {
		last, err = ops.SaveHistory(ctx, "s1", sampleHistory(t, make([]string, i+1)...))
		require.NoError(t, err)
	}

	removed, err := ops.PruneSnapshots(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	latest, err := ops.LatestSnapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, last.ID, latest.ID)
	assert.Equal(t, 8, latest.MessageCount)
}

func TestDeleteSessionRemovesSnapshots(t *testing.T) {
	ctx := context.Background()
	ops := testOps(t)
	_, err := ops.CreateSession(ctx, "s1", "chat", "gpt-4o")
	require.NoError(t, err)
	_, err = ops.SaveHistory(ctx, "s1", sampleHistory(t, "hi"))
	require.NoError(t, err)

	require.NoError(t, ops.DeleteSession(ctx, "s1"))

	_, err = ops.GetSession(ctx, "s1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = ops.LatestSnapshot(ctx, "s1")
	require.ErrorIs(t, err, ErrNoSnapshot)
}
