package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentkit/pkg/history"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoSnapshot is returned when a session has no stored history yet.
var ErrNoSnapshot = errors.New("no history snapshot for session")

// DatabaseOperations provides methods for database operations.
type DatabaseOperations struct {
	db  *sql.DB
	now func() time.Time
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSession inserts a new active session. Creating an existing id is an error.
func (ops *DatabaseOperations) CreateSession(ctx context.Context, id, agentName, model string) (*Session, error) {
	now := ops.now()
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, agent_name, model, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, agentName, model, SessionStatusActive, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return &Session{
		ID:        id,
		AgentName: agentName,
		Model:     model,
		Status:    SessionStatusActive,
		StartedAt: now,
		UpdatedAt: now,
	}, nil
}

const sessionColumns = `session_id, agent_name, model, status, started_at, updated_at, prompt_tokens, completion_tokens`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.AgentName, &s.Model, &s.Status, &s.StartedAt, &s.UpdatedAt,
		&s.PromptTokens, &s.CompletionTokens)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the session id
	}
	return &s, nil
}

// GetSession loads a session by id.
func (ops *DatabaseOperations) GetSession(ctx context.Context, id string) (*Session, error) {
	row := ops.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns sessions most recently updated first. A limit <= 0 returns all.
func (ops *DatabaseOperations) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC, session_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := ops.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows error: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status of a session.
func (ops *DatabaseOperations) UpdateSessionStatus(ctx context.Context, id, status string) error {
	res, err := ops.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?
	`, status, ops.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// AddUsage adds token counts to a session's running totals.
func (ops *DatabaseOperations) AddUsage(ctx context.Context, id string, promptTokens, completionTokens int64) error {
	res, err := ops.db.ExecContext(ctx, `
		UPDATE sessions
		SET prompt_tokens = prompt_tokens + ?, completion_tokens = completion_tokens + ?, updated_at = ?
		WHERE session_id = ?
	`, promptTokens, completionTokens, ops.now(), id)
	if err != nil {
		return fmt.Errorf("failed to record usage for session %s: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteSession removes a session and all of its snapshots.
func (ops *DatabaseOperations) DeleteSession(ctx context.Context, id string) error {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_snapshots WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshots for %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session delete: %w", err)
	}
	return nil
}

// SaveHistory appends a snapshot of h to the session and touches its updated_at.
func (ops *DatabaseOperations) SaveHistory(ctx context.Context, id string, h *history.History) (*Snapshot, error) {
	data, err := h.Dump()
	if err != nil {
		return nil, fmt.Errorf("failed to dump history: %w", err)
	}
	snap := &Snapshot{
		SessionID:    id,
		TurnID:       h.CurrentTurnID(),
		MessageCount: h.MessageCount(),
		Data:         data,
		CreatedAt:    ops.now(),
	}

	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, snap.CreatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	if err := requireRow(res, id); err != nil {
		return nil, err
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO history_snapshots (session_id, turn_id, message_count, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, snap.TurnID, snap.MessageCount, string(data), snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot for %s: %w", id, err)
	}
	if snap.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot of a session.
func (ops *DatabaseOperations) LatestSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var (
		snap Snapshot
		data string
	)
	err := ops.db.QueryRowContext(ctx, `
		SELECT id, session_id, turn_id, message_count, data, created_at
		FROM history_snapshots WHERE session_id = ?
		ORDER BY id DESC LIMIT 1
	`, id).Scan(&snap.ID, &snap.SessionID, &snap.TurnID, &snap.MessageCount, &data, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", id, err)
	}
	snap.Data = []byte(data)
	return &snap, nil
}

// LoadHistory restores the newest history of a session.
func (ops *DatabaseOperations) LoadHistory(ctx context.Context, id string) (*history.History, error) {
	snap, err := ops.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	h := history.New()
	if err := h.Load(snap.Data); err != nil {
		return nil, fmt.Errorf("failed to restore history for %s: %w", id, err)
	}
	return h, nil
}

// PruneSnapshots keeps only the newest keep snapshots of a session and returns how many were removed.
func (ops *DatabaseOperations) PruneSnapshots(ctx context.Context, id string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := ops.db.ExecContext(ctx, `
		DELETE FROM history_snapshots
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM history_snapshots WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)
	`, id, id, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
