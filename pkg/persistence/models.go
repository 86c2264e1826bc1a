package persistence

import "time"

// Session status values.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Session is one interactive conversation with an agent.
type Session struct {
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ID               string    `json:"session_id"`
	AgentName        string    `json:"agent_name"`
	Model            string    `json:"model"`
	Status           string    `json:"status"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
}

// Snapshot is a serialized history taken after a turn completed.
type Snapshot struct {
	CreatedAt    time.Time `json:"created_at"`
	SessionID    string    `json:"session_id"`
	TurnID       string    `json:"turn_id"`
	Data         []byte    `json:"data"`
	ID           int64     `json:"id"`
	MessageCount int       `json:"message_count"`
}
