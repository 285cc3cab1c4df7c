package websocket

// Actions the client may request.
const (
	// Health
	ActionHealthCheck = "health.check"

	// Agent catalog
	ActionAgentList   = "agent.list"
	ActionAgentAdd    = "agent.add"
	ActionAgentUpdate = "agent.update"
	ActionAgentRemove = "agent.remove"

	// Persisted session index
	ActionSessionList   = "session.list"
	ActionSessionDelete = "session.delete"

	// Bridge lifecycle
	ActionBridgeCreate        = "bridge.create"
	ActionBridgeConnect       = "bridge.connect"
	ActionBridgeCancelConnect = "bridge.cancel_connect"
	ActionBridgeList          = "bridge.list"
	ActionBridgeClose         = "bridge.close"

	// Conversation
	ActionBridgePrompt     = "bridge.prompt"
	ActionBridgeCancelTurn = "bridge.cancel_turn"
	ActionBridgeTranscript = "bridge.transcript"
	ActionBridgeSetMode    = "bridge.set_mode"
	ActionBridgeSetModel   = "bridge.set_model"

	// Human decisions surfaced by the bridge
	ActionPermissionResolve = "permission.resolve"
	ActionAuthChoose        = "auth.choose"

	// Per-bridge event subscriptions
	ActionBridgeSubscribe   = "bridge.subscribe"
	ActionBridgeUnsubscribe = "bridge.unsubscribe"
)

// Notification actions the server pushes.
const (
	ActionBridgeEvent     = "bridge.event"
	ActionRegistryChanged = "registry.changed"
)

// Error codes carried in ErrorPayload.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
