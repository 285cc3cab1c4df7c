// Package transcript assembles streamed session updates into an ordered
// conversation that mirrors what the agent has produced so far.
package transcript

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCallRecord tracks one tool call through its lifecycle.
type ToolCallRecord struct {
	ToolCallID string                 `json:"toolCallId"`
	Title      string                 `json:"title"`
	Kind       string                 `json:"kind,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Locations  []jsonrpc.ToolLocation `json:"locations,omitempty"`
	RawInput   json.RawMessage        `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage        `json:"rawOutput,omitempty"`
}

// Message is one transcript entry. Content and Thought grow append-only
// while the agent streams; ToolCalls holds display copies of the calls made
// during this message, in announcement order.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thought   string           `json:"thought,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Transcript folds session/update notifications, strictly in arrival order,
// into an ordered message list. Tool calls are kept twice: a lookup table
// keyed by id and a display copy embedded in the owning message; updates
// patch both.
type Transcript struct {
	mu        sync.RWMutex
	messages  []*Message
	toolCalls map[string]*ToolCallRecord
	// toolOwner maps a tool-call id to the message holding its display copy.
	toolOwner map[string]*Message

	currentModeID     string
	availableCommands []jsonrpc.AvailableCommand
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{
		toolCalls: make(map[string]*ToolCallRecord),
		toolOwner: make(map[string]*Message),
	}
}

// AppendUserMessage records a prompt the user submitted, as the optimistic
// local echo before the agent streams anything back.
func (t *Transcript) AppendUserMessage(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
}

// Apply folds one streamed update into the conversation. Unknown update
// kinds are ignored.
func (t *Transcript) Apply(u jsonrpc.SessionUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case u.UserMessageChunk != nil:
		t.appendText(RoleUser, u.UserMessageChunk.Content.Text)
	case u.AgentMessageChunk != nil:
		t.appendText(RoleAssistant, u.AgentMessageChunk.Content.Text)
	case u.AgentThoughtChunk != nil:
		t.appendThought(u.AgentThoughtChunk.Content.Text)
	case u.ToolCall != nil:
		t.startToolCall(u.ToolCall)
	case u.ToolCallUpdate != nil:
		t.patchToolCall(u.ToolCallUpdate)
	case u.CurrentMode != nil:
		t.currentModeID = u.CurrentMode.CurrentModeID
	case u.AvailableCommands != nil:
		t.availableCommands = u.AvailableCommands.AvailableCommands
	}
}

// trailing returns the last message, or nil for an empty transcript.
func (t *Transcript) trailing() *Message {
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

func (t *Transcript) appendMessage(role string) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Timestamp: time.Now().UTC(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

// appendText folds a chunk into the trailing message when the role matches,
// otherwise starts a new message. Used both for live streaming and for full
// replay on session resume.
func (t *Transcript) appendText(role, text string) {
	msg := t.trailing()
	if msg == nil || msg.Role != role {
		msg = t.appendMessage(role)
	}
	msg.Content += text
}

// appendThought targets the trailing assistant message's thought field,
// creating an assistant message with empty content if needed.
func (t *Transcript) appendThought(text string) {
	msg := t.trailing()
	if msg == nil || msg.Role != RoleAssistant {
		msg = t.appendMessage(RoleAssistant)
	}
	msg.Thought += text
}

func (t *Transcript) startToolCall(start *jsonrpc.ToolCallStart) {
	if _, exists := t.toolCalls[start.ToolCallID]; exists {
		// Re-announcement of a known call; records are never recreated.
		return
	}

	rec := &ToolCallRecord{
		ToolCallID: start.ToolCallID,
		Title:      start.Title,
		Kind:       start.Kind,
		Status:     start.Status,
		Locations:  start.Locations,
		RawInput:   start.RawInput,
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	t.toolCalls[rec.ToolCallID] = rec

	msg := t.trailing()
	if msg == nil || msg.Role != RoleAssistant {
		msg = t.appendMessage(RoleAssistant)
	}
	msg.ToolCalls = append(msg.ToolCalls, *rec)
	t.toolOwner[rec.ToolCallID] = msg
}

// patchToolCall applies present fields to the table record and the display
// copy embedded in the owning message. Ids never announced are ignored; the
// agent may reference calls from before the assembler attached.
func (t *Transcript) patchToolCall(patch *jsonrpc.ToolCallPatch) {
	rec, ok := t.toolCalls[patch.ToolCallID]
	if !ok {
		return
	}

	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.Locations != nil {
		rec.Locations = patch.Locations
	}
	if patch.RawOutput != nil {
		rec.RawOutput = patch.RawOutput
	}

	if owner := t.toolOwner[patch.ToolCallID]; owner != nil {
		for i := range owner.ToolCalls {
			if owner.ToolCalls[i].ToolCallID == patch.ToolCallID {
				owner.ToolCalls[i] = *rec
				break
			}
		}
	}
}

// ToolCall returns a copy of the table record for id.
func (t *Transcript) ToolCall(id string) (ToolCallRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.toolCalls[id]
	if !ok {
		return ToolCallRecord{}, false
	}
	return *rec, true
}

// CurrentModeID returns the mode most recently reported by the agent.
func (t *Transcript) CurrentModeID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentModeID
}

// SetCurrentModeID records a mode change made from the client side.
func (t *Transcript) SetCurrentModeID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentModeID = id
}

// AvailableCommands returns the agent's advertised slash commands.
func (t *Transcript) AvailableCommands() []jsonrpc.AvailableCommand {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]jsonrpc.AvailableCommand, len(t.availableCommands))
	copy(out, t.availableCommands)
	return out
}

// Snapshot returns a deep copy of the messages, safe to hand to other
// goroutines while streaming continues.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		cp := *m
		cp.ToolCalls = append([]ToolCallRecord(nil), m.ToolCalls...)
		out = append(out, cp)
	}
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Reset clears the conversation, the tool-call table, and advertised
// commands. Used when a session is created or loaded.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.toolCalls = make(map[string]*ToolCallRecord)
	t.toolOwner = make(map[string]*Message)
	t.currentModeID = ""
	t.availableCommands = nil
}
