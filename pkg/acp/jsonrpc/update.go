package jsonrpc

import "encoding/json"

// Session update kinds carried in the sessionUpdate discriminator of
// session/update notifications.
const (
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdateCurrentMode       = "current_mode_update"
	UpdateAvailableCommands = "available_commands_update"
)

// SessionUpdateParams is the payload of a session/update notification.
type SessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionUpdate is the tagged union of streaming update variants. Exactly one
// variant pointer is non-nil after unmarshaling; unknown kinds leave all
// variants nil with Kind preserved for diagnostics.
type SessionUpdate struct {
	Kind string

	UserMessageChunk  *MessageChunk
	AgentMessageChunk *MessageChunk
	AgentThoughtChunk *MessageChunk
	ToolCall          *ToolCallStart
	ToolCallUpdate    *ToolCallPatch
	CurrentMode       *CurrentModeUpdate
	AvailableCommands *AvailableCommandsUpdate
}

// MessageChunk is an incremental fragment of streamed text
type MessageChunk struct {
	Content ContentBlock `json:"content"`
}

// ToolCallStart announces a new tool call
type ToolCallStart struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title"`
	Kind       string          `json:"kind,omitempty"`
	Status     string          `json:"status,omitempty"`
	Locations  []ToolLocation  `json:"locations,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// ToolCallPatch updates an announced tool call; only non-nil fields apply
type ToolCallPatch struct {
	ToolCallID string          `json:"toolCallId"`
	Title      *string         `json:"title,omitempty"`
	Status     *string         `json:"status,omitempty"`
	Locations  []ToolLocation  `json:"locations,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
}

// ToolLocation is a file location a tool call touches
type ToolLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// CurrentModeUpdate reports a session mode change initiated by the agent
type CurrentModeUpdate struct {
	CurrentModeID string `json:"currentModeId"`
}

// AvailableCommandsUpdate replaces the advertised slash-command set
type AvailableCommandsUpdate struct {
	AvailableCommands []AvailableCommand `json:"availableCommands"`
}

// AvailableCommand is one agent-provided command
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON decodes the discriminator and fills exactly one variant.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind string `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	u.Kind = tag.Kind

	switch tag.Kind {
	case UpdateUserMessageChunk:
		u.UserMessageChunk = &MessageChunk{}
		return json.Unmarshal(data, u.UserMessageChunk)
	case UpdateAgentMessageChunk:
		u.AgentMessageChunk = &MessageChunk{}
		return json.Unmarshal(data, u.AgentMessageChunk)
	case UpdateAgentThoughtChunk:
		u.AgentThoughtChunk = &MessageChunk{}
		return json.Unmarshal(data, u.AgentThoughtChunk)
	case UpdateToolCall:
		u.ToolCall = &ToolCallStart{}
		return json.Unmarshal(data, u.ToolCall)
	case UpdateToolCallUpdate:
		u.ToolCallUpdate = &ToolCallPatch{}
		return json.Unmarshal(data, u.ToolCallUpdate)
	case UpdateCurrentMode:
		u.CurrentMode = &CurrentModeUpdate{}
		return json.Unmarshal(data, u.CurrentMode)
	case UpdateAvailableCommands:
		u.AvailableCommands = &AvailableCommandsUpdate{}
		return json.Unmarshal(data, u.AvailableCommands)
	}
	// Unknown kinds are not an error; callers log and ignore them.
	return nil
}

// MarshalJSON re-encodes the active variant with its discriminator. Used by
// tests and the traffic recorder's payload search.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	encode := func(kind string, v interface{}) ([]byte, error) {
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		m["sessionUpdate"], _ = json.Marshal(kind)
		return json.Marshal(m)
	}

	switch {
	case u.UserMessageChunk != nil:
		return encode(UpdateUserMessageChunk, u.UserMessageChunk)
	case u.AgentMessageChunk != nil:
		return encode(UpdateAgentMessageChunk, u.AgentMessageChunk)
	case u.AgentThoughtChunk != nil:
		return encode(UpdateAgentThoughtChunk, u.AgentThoughtChunk)
	case u.ToolCall != nil:
		return encode(UpdateToolCall, u.ToolCall)
	case u.ToolCallUpdate != nil:
		return encode(UpdateToolCallUpdate, u.ToolCallUpdate)
	case u.CurrentMode != nil:
		return encode(UpdateCurrentMode, u.CurrentMode)
	case u.AvailableCommands != nil:
		return encode(UpdateAvailableCommands, u.AvailableCommands)
	}
	return json.Marshal(map[string]string{"sessionUpdate": u.Kind})
}
