package history

import (
	"encoding/json"
	"fmt"
)

// snapshot is the serialized form of a History.
type snapshot struct {
	Version       int       `json:"version"`
	CurrentTurnID string    `json:"current_turn_id,omitempty"`
	Messages      []Message `json:"messages"`
}

const snapshotVersion = 1

// Dump serializes the full history state.
func (h *History) Dump() ([]byte, error) {
	data, err := json.Marshal(snapshot{
		Version:       snapshotVersion,
		CurrentTurnID: h.currentTurnID,
		Messages:      h.messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize history: %w", err)
	}
	return data, nil
}

// Load replaces the history state with a previously dumped one.
func (h *History) Load(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to deserialize history: %w", err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported history snapshot version %d", s.Version)
	}
	if s.Messages == nil {
		s.Messages = make([]Message, 0)
	}
	h.messages = s.Messages
	h.currentTurnID = s.CurrentTurnID
	return nil
}
