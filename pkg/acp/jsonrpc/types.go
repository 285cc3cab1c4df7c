// Package jsonrpc implements JSON-RPC 2.0 framing for ACP (Agent Client Protocol)
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`      // Always "2.0"
	ID      interface{}     `json:"id,omitempty"` // Request ID (int or string), omit for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so wire errors can be wrapped and
// inspected with errors.As.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Notification represents a JSON-RPC 2.0 notification (no ID, no response expected)
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// AuthRequired is the agent-defined code for "authentication required".
	// Some agents signal it by message text instead; see IsAuthRequired.
	AuthRequired = -32000
)

// IsAuthRequired reports whether a wire error is the authentication-required
// signal. Both the numeric code and a textual match are checked because
// agents differ in which one they emit.
func IsAuthRequired(e *Error) bool {
	if e == nil {
		return false
	}
	if e.Code == AuthRequired {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "authentication required")
}

// ACP methods
const (
	// Client -> Agent
	MethodInitialize      = "initialize"
	MethodAuthenticate    = "authenticate"
	MethodSessionNew      = "session/new"
	MethodSessionLoad     = "session/load"
	MethodSessionPrompt   = "session/prompt"
	MethodSessionCancel   = "session/cancel" // notification
	MethodSessionSetMode  = "session/set_mode"
	MethodSessionSetModel = "session/set_model"

	// Agent -> Client notifications
	NotificationSessionUpdate = "session/update"

	// Agent -> Client requests (require a response)
	MethodRequestPermission = "session/request_permission"
	MethodReadTextFile      = "fs/read_text_file"
	MethodWriteTextFile     = "fs/write_text_file"
)

// InitializeParams for the initialize handshake
type InitializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"clientCapabilities,omitempty"`
}

// ClientInfo identifies the client
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities describes what the client supports
type ClientCapabilities struct {
	Fs FsCapabilities `json:"fs"`
}

// FsCapabilities describes the client's file-access support
type FsCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// InitializeResult from the initialize handshake
type InitializeResult struct {
	ProtocolVersion int               `json:"protocolVersion"`
	AgentInfo       *AgentInfo        `json:"agentInfo,omitempty"`
	Capabilities    AgentCapabilities `json:"agentCapabilities,omitempty"`
	AuthMethods     []AuthMethod      `json:"authMethods,omitempty"`
}

// AgentInfo identifies the agent
type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AgentCapabilities describes what the agent supports
type AgentCapabilities struct {
	LoadSession bool `json:"loadSession,omitempty"`
}

// AuthMethod is one authentication method advertised by the agent
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AuthenticateParams for the authenticate method
type AuthenticateParams struct {
	MethodID string `json:"methodId"`
}

// SessionNewParams for session/new
type SessionNewParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"` // required, can be empty
}

// McpServer configuration passed through during session creation
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
}

// SessionNewResult from session/new
type SessionNewResult struct {
	SessionID string         `json:"sessionId"`
	Modes     *SessionModes  `json:"modes,omitempty"`
	Models    *SessionModels `json:"models,omitempty"`
}

// SessionModes advertises the mode set a session supports
type SessionModes struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes"`
}

// SessionMode is one selectable session mode
type SessionMode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionModels advertises the model set a session supports
type SessionModels struct {
	CurrentModelID  string         `json:"currentModelId"`
	AvailableModels []SessionModel `json:"availableModels"`
}

// SessionModel is one selectable model
type SessionModel struct {
	ID   string `json:"modelId"`
	Name string `json:"name"`
}

// SessionLoadParams for session/load (resume)
type SessionLoadParams struct {
	SessionID  string      `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// SessionLoadResult from session/load
type SessionLoadResult struct {
	Modes  *SessionModes  `json:"modes,omitempty"`
	Models *SessionModels `json:"models,omitempty"`
}

// ContentBlock is one element of a prompt or streamed message
type ContentBlock struct {
	Type string `json:"type"` // "text", "resource", "image", ...
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// SessionPromptParams for session/prompt
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionPromptResult from session/prompt
type SessionPromptResult struct {
	StopReason string `json:"stopReason"` // end_turn, max_tokens, cancelled, refusal, ...
}

// SessionCancelParams for the session/cancel notification
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
}

// SetModeParams for session/set_mode
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SetModelParams for session/set_model
type SetModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

// RequestPermissionParams for session/request_permission from the agent
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallRef identifies the tool call a permission request concerns
type ToolCallRef struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// PermissionOption is one permission choice offered to the user
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // allow_once, allow_always, reject_once, reject_always
}

// RequestPermissionResult is the response to session/request_permission
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome carries the user's decision
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`            // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"` // only when outcome="selected"
}

// ReadTextFileParams for fs/read_text_file from the agent
type ReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`  // 1-based start line
	Limit     *int   `json:"limit,omitempty"` // max number of lines
}

// ReadTextFileResult from fs/read_text_file
type ReadTextFileResult struct {
	Content string `json:"content"`
}

// WriteTextFileParams for fs/write_text_file from the agent
type WriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// WriteTextFileResult from fs/write_text_file
type WriteTextFileResult struct{}
