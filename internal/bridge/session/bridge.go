// Package session drives the lifecycle of one agent connection: process
// launch, protocol handshake, lazy authentication, session establishment,
// prompt turns, and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/agent/registry"
	"github.com/formulahendry/acp-ui/internal/bridge/interaction"
	"github.com/formulahendry/acp-ui/internal/bridge/rpc"
	"github.com/formulahendry/acp-ui/internal/bridge/traffic"
	"github.com/formulahendry/acp-ui/internal/bridge/transcript"
	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/common/stringutil"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	"github.com/formulahendry/acp-ui/internal/sessionstore"
	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

// State of a bridge instance.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateHandshaking    State = "handshaking"
	StateAuthenticating State = "authenticating"
	StateEstablishing   State = "establishing_session"
	StateActive         State = "active"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
	StateError          State = "error"
)

// ErrCancelled is returned by Connect when the user cancelled the attempt
// before the session became active.
var ErrCancelled = errors.New("session: connection cancelled")

// errNotActive is returned for operations that need an active session.
var errNotActive = errors.New("session: no active session")

// titleMaxLen bounds the session title derived from the first prompt.
const titleMaxLen = 50

// protocolVersion is the ACP protocol revision this client speaks.
const protocolVersion = 1

// clientName and clientVersion identify us in the initialize handshake.
const (
	clientName    = "acp-ui"
	clientVersion = "0.4.0"
)

// Session is the established conversation. Identity fields never change
// once populated; Title and LastUpdated move with the conversation.
type Session struct {
	SessionID      string    `json:"sessionId"`
	AgentName      string    `json:"agentName"`
	Cwd            string    `json:"cwd"`
	SupportsResume bool      `json:"supportsResume"`
	Title          string    `json:"title"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Launcher abstracts agent process startup so tests can substitute an
// in-memory channel.
type Launcher interface {
	Launch(def registry.AgentDefinition, cwd string, onLine func([]byte), onStderr func(string), onExit func(error)) (rpc.Channel, error)
}

// Bridge is one agent connection and its session state machine.
type Bridge struct {
	ID string

	agent    registry.AgentDefinition
	launcher Launcher

	conn       *rpc.Conn
	transcript *transcript.Transcript
	arbitrator *interaction.Arbitrator
	recorder   *traffic.Recorder
	files      FileAccess

	bus    bus.EventBus
	store  *sessionstore.Store
	logger *logger.Logger

	requestTimeout time.Duration

	mu          sync.Mutex
	state       State
	session     *Session
	cancelled   bool
	caps        jsonrpc.AgentCapabilities
	authMethods []jsonrpc.AuthMethod
	modes       *jsonrpc.SessionModes
	models      *jsonrpc.SessionModels
	titleSet    bool
}

// Options configures a Bridge beyond its required collaborators.
type Options struct {
	Recorder       *traffic.Recorder
	Files          FileAccess
	Store          *sessionstore.Store
	RequestTimeout time.Duration
}

// NewBridge creates an idle bridge for the given agent definition.
func NewBridge(agent registry.AgentDefinition, launcher Launcher, eventBus bus.EventBus, log *logger.Logger, opts Options) *Bridge {
	files := opts.Files
	if files == nil {
		files = LocalFiles{}
	}
	id := uuid.NewString()
	return &Bridge{
		ID:             id,
		agent:          agent,
		launcher:       launcher,
		transcript:     transcript.New(),
		arbitrator:     interaction.New(),
		recorder:       opts.Recorder,
		files:          files,
		bus:            eventBus,
		store:          opts.Store,
		logger:         log.WithAgent(id).WithFields(zap.String("agent", agent.Name)),
		requestTimeout: opts.RequestTimeout,
		state:          StateIdle,
	}
}

// Transcript exposes the conversation for read-side consumers.
func (b *Bridge) Transcript() *transcript.Transcript { return b.transcript }

// Arbitrator exposes pending human decisions for the UI.
func (b *Bridge) Arbitrator() *interaction.Arbitrator { return b.arbitrator }

// AgentName returns the catalog name this bridge was launched for.
func (b *Bridge) AgentName() string { return b.agent.Name }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns a copy of the established session, if any.
func (b *Bridge) Session() (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return Session{}, false
	}
	return *b.session, true
}

// Modes returns a copy of the session's advertised mode set. SetMode
// mutates the internal set under the bridge lock, so callers get their
// own copy rather than a pointer into it.
func (b *Bridge) Modes() *jsonrpc.SessionModes {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modes == nil {
		return nil
	}
	cp := *b.modes
	cp.AvailableModes = append([]jsonrpc.SessionMode(nil), b.modes.AvailableModes...)
	return &cp
}

// Models returns a copy of the session's advertised model set.
func (b *Bridge) Models() *jsonrpc.SessionModels {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.models == nil {
		return nil
	}
	cp := *b.models
	cp.AvailableModels = append([]jsonrpc.SessionModel(nil), b.models.AvailableModels...)
	return &cp
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	b.mu.Unlock()

	b.logger.Info("bridge state changed", zap.String("state", string(s)))
	b.publish(bus.SubjectBridgeState, "bridge.state", map[string]interface{}{
		"state": string(s),
	})
}

func (b *Bridge) publish(subjectPattern, eventType string, data map[string]interface{}) {
	if b.bus == nil {
		return
	}
	subject := bus.BridgeSubject(subjectPattern, b.ID)
	data["instanceId"] = b.ID
	event := bus.NewEvent(eventType, "bridge", data)
	if err := b.bus.Publish(context.Background(), subject, event); err != nil {
		b.logger.Warn("failed to publish bridge event", zap.Error(err))
	}
}

// CancelConnect flags the in-progress connection attempt. The flag is
// single-shot per attempt and checked after every awaited step; once set,
// the attempt short-circuits to teardown even if the in-flight call
// succeeds.
func (b *Bridge) CancelConnect() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
	b.arbitrator.CancelAll()
}

func (b *Bridge) isCancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Connect launches the agent process, performs the handshake, and
// establishes a session. A non-empty resumeSessionID loads that session
// instead of creating a new one. Authentication is lazy: establishment is
// attempted first and the auth flow only runs if the agent demands it.
func (b *Bridge) Connect(ctx context.Context, cwd, resumeSessionID string) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return fmt.Errorf("session: connect from state %s", b.state)
	}
	b.cancelled = false
	b.mu.Unlock()

	b.setState(StateConnecting)

	ch, err := b.launcher.Launch(b.agent, cwd,
		func(line []byte) {
			b.mu.Lock()
			conn := b.conn
			b.mu.Unlock()
			if conn != nil {
				conn.HandleLine(line)
			}
		},
		b.onStderr,
		b.onProcessExit,
	)
	if err != nil {
		b.setState(StateError)
		return fmt.Errorf("session: launch agent: %w", err)
	}

	var connOpts []rpc.Option
	if b.requestTimeout > 0 {
		connOpts = append(connOpts, rpc.WithTimeout(b.requestTimeout))
	}
	conn := rpc.NewConn(ch, b.logger, connOpts...)
	if b.recorder != nil {
		conn.SetTap(func(dir rpc.Direction, payload []byte) {
			b.recorder.Record(string(dir), payload)
		})
	}
	b.registerHandlers(conn)

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	if b.isCancelled() {
		return b.teardownCancelled()
	}

	b.setState(StateHandshaking)
	initResult, err := b.initialize(ctx)
	if err != nil {
		b.failConnect(err)
		return err
	}

	b.mu.Lock()
	b.caps = initResult.Capabilities
	b.authMethods = initResult.AuthMethods
	b.mu.Unlock()

	if b.isCancelled() {
		return b.teardownCancelled()
	}

	if err := b.establish(ctx, cwd, resumeSessionID, true); err != nil {
		if errors.Is(err, ErrCancelled) {
			return b.teardownCancelled()
		}
		b.failConnect(err)
		return err
	}

	if b.isCancelled() {
		return b.teardownCancelled()
	}

	b.setState(StateActive)
	return nil
}

func (b *Bridge) initialize(ctx context.Context) (*jsonrpc.InitializeResult, error) {
	params := jsonrpc.InitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      jsonrpc.ClientInfo{Name: clientName, Version: clientVersion},
		Capabilities: jsonrpc.ClientCapabilities{
			Fs: jsonrpc.FsCapabilities{ReadTextFile: true, WriteTextFile: true},
		},
	}
	var result jsonrpc.InitializeResult
	if err := b.conn.Call(ctx, jsonrpc.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("session: initialize: %w", err)
	}
	return &result, nil
}

// establish creates or loads the session. On an authentication-required
// error it runs the auth flow and retries exactly once.
func (b *Bridge) establish(ctx context.Context, cwd, resumeSessionID string, allowAuthRetry bool) error {
	b.setState(StateEstablishing)

	// Agents replay the prior conversation as session/update notifications
	// while the load call is still in flight, so the transcript must be
	// empty before the request goes out.
	b.transcript.Reset()

	var (
		sessionID string
		modes     *jsonrpc.SessionModes
		models    *jsonrpc.SessionModels
		err       error
	)
	if resumeSessionID != "" {
		var result jsonrpc.SessionLoadResult
		err = b.conn.Call(ctx, jsonrpc.MethodSessionLoad, jsonrpc.SessionLoadParams{
			SessionID:  resumeSessionID,
			Cwd:        cwd,
			McpServers: []jsonrpc.McpServer{},
		}, &result)
		sessionID = resumeSessionID
		modes, models = result.Modes, result.Models
	} else {
		var result jsonrpc.SessionNewResult
		err = b.conn.Call(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{
			Cwd:        cwd,
			McpServers: []jsonrpc.McpServer{},
		}, &result)
		sessionID = result.SessionID
		modes, models = result.Modes, result.Models
	}

	if b.isCancelled() {
		return ErrCancelled
	}

	if err != nil {
		var wireErr *jsonrpc.Error
		if allowAuthRetry && errors.As(err, &wireErr) && jsonrpc.IsAuthRequired(wireErr) && len(b.authMethods) > 0 {
			if err := b.authenticate(ctx); err != nil {
				return err
			}
			if b.isCancelled() {
				return ErrCancelled
			}
			return b.establish(ctx, cwd, resumeSessionID, false)
		}
		return fmt.Errorf("session: establish: %w", err)
	}

	// A resumed session keeps the title it earned on its first prompt.
	var title string
	if resumeSessionID != "" && b.store != nil {
		if rec, err := b.store.Get(context.Background(), resumeSessionID); err == nil {
			title = rec.Title
		}
	}

	// Populate the session only on success; never partially.
	b.mu.Lock()
	b.session = &Session{
		SessionID:      sessionID,
		AgentName:      b.agent.Name,
		Title:          title,
		Cwd:            cwd,
		SupportsResume: b.caps.LoadSession,
		LastUpdated:    time.Now().UTC(),
	}
	b.modes = modes
	b.models = models
	b.titleSet = title != ""
	b.mu.Unlock()

	if modes != nil {
		b.transcript.SetCurrentModeID(modes.CurrentModeID)
	}

	if b.store != nil {
		rec := &sessionstore.Record{
			SessionID: sessionID,
			AgentName: b.agent.Name,
			Title:     title,
			Cwd:       cwd,
		}
		if err := b.store.Save(context.Background(), rec); err != nil {
			b.logger.Warn("failed to persist session", zap.Error(err))
		}
	}
	return nil
}

// authenticate surfaces the advertised methods to the user, then issues the
// authenticate call with the chosen method.
func (b *Bridge) authenticate(ctx context.Context) error {
	b.setState(StateAuthenticating)

	b.mu.Lock()
	methods := b.authMethods
	b.mu.Unlock()

	_, methodID, err := b.arbitrator.AskAuthMethod(ctx, methods, func(prompt interaction.AuthPrompt) {
		b.publish(bus.SubjectBridgeAuth, "bridge.auth.pending", map[string]interface{}{
			"promptId": prompt.ID,
			"methods":  prompt.Methods,
		})
	})
	if err != nil || methodID == "" {
		return ErrCancelled
	}

	b.publish(bus.SubjectBridgeAuth, "bridge.auth.chosen", map[string]interface{}{
		"methodId": methodID,
	})

	if err := b.conn.Call(ctx, jsonrpc.MethodAuthenticate, jsonrpc.AuthenticateParams{MethodID: methodID}, nil); err != nil {
		return fmt.Errorf("session: authenticate: %w", err)
	}
	return nil
}

func (b *Bridge) failConnect(err error) {
	b.logger.Error("connection attempt failed", zap.Error(err))
	b.closeTransport(err)
	b.setState(StateError)
}

func (b *Bridge) teardownCancelled() error {
	b.logger.Info("connection attempt cancelled")
	b.closeTransport(ErrCancelled)
	b.setState(StateClosed)
	return ErrCancelled
}

func (b *Bridge) closeTransport(cause error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		if err := conn.CloseWith(cause); err != nil {
			b.logger.Debug("transport close", zap.Error(err))
		}
	}
	b.arbitrator.CancelAll()
}

// Prompt submits a user turn. The user message is appended to the
// transcript immediately; the call then blocks until the agent reports a
// stop reason. The session title derives from the first prompt.
func (b *Bridge) Prompt(ctx context.Context, text string) (string, error) {
	b.mu.Lock()
	if b.state != StateActive || b.session == nil {
		b.mu.Unlock()
		return "", errNotActive
	}
	sessionID := b.session.SessionID
	needsTitle := !b.titleSet
	b.mu.Unlock()

	b.transcript.AppendUserMessage(text)
	b.publishTranscript()

	if needsTitle {
		title := stringutil.TruncateStringWithEllipsis(stringutil.FirstLine(text), titleMaxLen)
		b.mu.Lock()
		b.session.Title = title
		b.titleSet = true
		b.mu.Unlock()
		if b.store != nil {
			if err := b.store.SetTitle(context.Background(), sessionID, title); err != nil {
				b.logger.Warn("failed to persist session title", zap.Error(err))
			}
		}
	}

	var result jsonrpc.SessionPromptResult
	err := b.conn.Call(ctx, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: sessionID,
		Prompt:    []jsonrpc.ContentBlock{jsonrpc.TextBlock(text)},
	}, &result)
	if err != nil {
		return "", fmt.Errorf("session: prompt: %w", err)
	}

	b.mu.Lock()
	if b.session != nil {
		b.session.LastUpdated = time.Now().UTC()
	}
	b.mu.Unlock()
	if b.store != nil {
		if err := b.store.Touch(context.Background(), sessionID); err != nil {
			b.logger.Warn("failed to touch session", zap.Error(err))
		}
	}

	b.publish(bus.SubjectBridgeTurn, "bridge.turn.completed", map[string]interface{}{
		"stopReason": result.StopReason,
	})
	return result.StopReason, nil
}

// CancelTurn asks the agent to stop the in-flight prompt. The prompt call
// itself still resolves with its stop reason (or times out); any pending
// permission request is answered with a cancelled outcome.
func (b *Bridge) CancelTurn() error {
	b.mu.Lock()
	if b.session == nil {
		b.mu.Unlock()
		return errNotActive
	}
	sessionID := b.session.SessionID
	b.mu.Unlock()

	b.arbitrator.CancelPermission()
	return b.conn.Notify(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{SessionID: sessionID})
}

// SetMode switches the session mode. The local mode updates optimistically
// and reverts if the agent rejects the change.
func (b *Bridge) SetMode(ctx context.Context, modeID string) error {
	b.mu.Lock()
	if b.state != StateActive || b.session == nil {
		b.mu.Unlock()
		return errNotActive
	}
	sessionID := b.session.SessionID
	b.mu.Unlock()

	previous := b.transcript.CurrentModeID()
	b.transcript.SetCurrentModeID(modeID)

	err := b.conn.Call(ctx, jsonrpc.MethodSessionSetMode, jsonrpc.SetModeParams{
		SessionID: sessionID,
		ModeID:    modeID,
	}, nil)
	if err != nil {
		b.transcript.SetCurrentModeID(previous)
		return fmt.Errorf("session: set mode: %w", err)
	}
	return nil
}

// SetModel switches the session model, optimistically with revert on error.
func (b *Bridge) SetModel(ctx context.Context, modelID string) error {
	b.mu.Lock()
	if b.state != StateActive || b.session == nil {
		b.mu.Unlock()
		return errNotActive
	}
	sessionID := b.session.SessionID
	models := b.models
	var previous string
	if models != nil {
		previous = models.CurrentModelID
		models.CurrentModelID = modelID
	}
	b.mu.Unlock()

	err := b.conn.Call(ctx, jsonrpc.MethodSessionSetModel, jsonrpc.SetModelParams{
		SessionID: sessionID,
		ModelID:   modelID,
	}, nil)
	if err != nil {
		b.mu.Lock()
		if models != nil {
			models.CurrentModelID = previous
		}
		b.mu.Unlock()
		return fmt.Errorf("session: set model: %w", err)
	}
	return nil
}

// Disconnect tears the connection down. Idempotent.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.state == StateClosed || b.state == StateClosing {
		b.mu.Unlock()
		return
	}
	b.state = StateClosing
	b.mu.Unlock()

	b.publish(bus.SubjectBridgeState, "bridge.state", map[string]interface{}{
		"state": string(StateClosing),
	})
	b.closeTransport(nil)
	b.setState(StateClosed)
}

func (b *Bridge) onStderr(line string) {
	b.publish(bus.SubjectBridgeStderr, "bridge.stderr", map[string]interface{}{
		"line": line,
	})
}

// onProcessExit handles the agent dying underneath us. All pending calls
// reject; a user-initiated close stays closed, anything else is an error.
func (b *Bridge) onProcessExit(exitErr error) {
	b.closeTransport(fmt.Errorf("agent process exited: %w", errOrExited(exitErr)))

	b.mu.Lock()
	closing := b.state == StateClosing || b.state == StateClosed
	b.mu.Unlock()
	if closing {
		return
	}
	b.logger.Warn("agent process died unexpectedly", zap.Error(exitErr))
	b.setState(StateError)
}

func errOrExited(err error) error {
	if err != nil {
		return err
	}
	return errors.New("exit status 0")
}

func (b *Bridge) publishTranscript() {
	b.publish(bus.SubjectBridgeTranscript, "bridge.transcript", map[string]interface{}{
		"messages": b.transcript.Snapshot(),
	})
}
