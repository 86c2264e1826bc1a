// Package history keeps the ordered conversation turns of an agent.
//
// Each turn stores the canonical JSON of a schema instance, so the list can
// be replayed to a chat-completion client as-is. History is not safe for
// concurrent use; callers serialize access.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"agentkit/pkg/agent/llm"
	"agentkit/pkg/utils"
)

// ErrTurnNotFound is returned by DeleteTurn when no message carries the turn id.
var ErrTurnNotFound = errors.New("turn not found")

// Message is a single entry in the conversation.
type Message struct {
	Role      llm.CompletionRole `json:"role"`
	Content   json.RawMessage    `json:"content"`
	TurnID    string             `json:"turn_id"`
	Timestamp time.Time          `json:"timestamp"`
}

// History is an append-only list of conversation turns.
type History struct {
	messages      []Message
	currentTurnID string
}

// New creates an empty history.
func New() *History {
	return &History{messages: make([]Message, 0)}
}

// InitializeTurn starts a new turn; subsequent messages carry its id.
func (h *History) InitializeTurn() string {
	h.currentTurnID = uuid.NewString()
	return h.currentTurnID
}

// CurrentTurnID returns the active turn id, or "" before the first turn.
func (h *History) CurrentTurnID() string {
	return h.currentTurnID
}

// AddMessage appends content, encoded as canonical JSON, under the current turn.
func (h *History) AddMessage(role llm.CompletionRole, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", role, err)
	}
	if h.currentTurnID == "" {
		h.InitializeTurn()
	}
	h.messages = append(h.messages, Message{
		Role:      role,
		Content:   data,
		TurnID:    h.currentTurnID,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// DeleteTurn removes every message of the given turn.
func (h *History) DeleteTurn(turnID string) error {
	before := len(h.messages)
	h.messages = slices.DeleteFunc(h.messages, func(m Message) bool {
		return m.TurnID == turnID
	})
	if len(h.messages) == before {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if h.currentTurnID == turnID {
		h.currentTurnID = ""
		if n := len(h.messages); n > 0 {
			h.currentTurnID = h.messages[n-1].TurnID
		}
	}
	return nil
}

// MessageCount returns the number of stored messages.
func (h *History) MessageCount() int {
	return len(h.messages)
}

// Messages returns a copy of the stored messages in order.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	for i, m := range h.messages {
		m.Content = slices.Clone(m.Content)
		out[i] = m
	}
	return out
}

// All iterates over copies of the stored messages.
func (h *History) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range h.messages {
			m.Content = slices.Clone(m.Content)
			if !yield(m) {
				return
			}
		}
	}
}

// CompletionMessages returns the history as chat-completion messages.
func (h *History) CompletionMessages() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(h.messages))
	for _, m := range h.messages {
		out = append(out, llm.CompletionMessage{Role: m.Role, Content: string(m.Content)})
	}
	return out
}

// Copy returns an independent history with the same turns.
func (h *History) Copy() *History {
	return &History{
		messages:      h.Messages(),
		currentTurnID: h.currentTurnID,
	}
}

// Decode unmarshals the content of m into a T.
func Decode[T any](m Message) (T, error) {
	var v T
	if err := json.Unmarshal(m.Content, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s message: %w", m.Role, err)
	}
	return v, nil
}

// CountTokens returns the token count of all message contents for model.
func (h *History) CountTokens(model string) (int, error) {
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return 0, err
	}
	return counter.CountMessages(h.CompletionMessages()), nil
}
