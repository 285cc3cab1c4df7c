package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/agent/registry"
	"github.com/formulahendry/acp-ui/internal/bridge/session"
	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/sessionstore"
	ws "github.com/formulahendry/acp-ui/pkg/websocket"
)

// API bundles the backend services the dispatcher actions operate on.
type API struct {
	Manager  *session.Manager
	Registry *registry.Registry
	Store    *sessionstore.Store
	logger   *logger.Logger
}

// NewAPI creates the action handler set.
func NewAPI(manager *session.Manager, reg *registry.Registry, store *sessionstore.Store, log *logger.Logger) *API {
	return &API{
		Manager:  manager,
		Registry: reg,
		Store:    store,
		logger:   log.WithFields(zap.String("component", "ws_api")),
	}
}

// Register installs every action handler on the dispatcher.
func (a *API) Register(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, a.healthCheck)

	d.RegisterFunc(ws.ActionAgentList, a.agentList)
	d.RegisterFunc(ws.ActionAgentAdd, a.agentAdd)
	d.RegisterFunc(ws.ActionAgentUpdate, a.agentUpdate)
	d.RegisterFunc(ws.ActionAgentRemove, a.agentRemove)

	d.RegisterFunc(ws.ActionSessionList, a.sessionList)
	d.RegisterFunc(ws.ActionSessionDelete, a.sessionDelete)

	d.RegisterFunc(ws.ActionBridgeCreate, a.bridgeCreate)
	d.RegisterFunc(ws.ActionBridgeConnect, a.bridgeConnect)
	d.RegisterFunc(ws.ActionBridgeCancelConnect, a.bridgeCancelConnect)
	d.RegisterFunc(ws.ActionBridgeList, a.bridgeList)
	d.RegisterFunc(ws.ActionBridgeClose, a.bridgeClose)

	d.RegisterFunc(ws.ActionBridgePrompt, a.bridgePrompt)
	d.RegisterFunc(ws.ActionBridgeCancelTurn, a.bridgeCancelTurn)
	d.RegisterFunc(ws.ActionBridgeTranscript, a.bridgeTranscript)
	d.RegisterFunc(ws.ActionBridgeSetMode, a.bridgeSetMode)
	d.RegisterFunc(ws.ActionBridgeSetModel, a.bridgeSetModel)

	d.RegisterFunc(ws.ActionPermissionResolve, a.permissionResolve)
	d.RegisterFunc(ws.ActionAuthChoose, a.authChoose)
}

func (a *API) healthCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"status":  "ok",
		"service": "acp-ui",
	})
}

// --- agent catalog ---

func (a *API) agentList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"agents": a.Registry.List(),
	})
}

func (a *API) agentAdd(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var def registry.AgentDefinition
	if err := msg.ParsePayload(&def); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	if err := a.Registry.Add(def); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) agentUpdate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var def registry.AgentDefinition
	if err := msg.ParsePayload(&def); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	if err := a.Registry.Update(def); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) agentRemove(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	if err := a.Registry.Remove(req.Name); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// --- persisted session index ---

func (a *API) sessionList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		AgentName string `json:"agentName"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	records, err := a.Store.List(ctx, req.AgentName)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"sessions": records})
}

func (a *API) sessionDelete(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	if err := a.Store.Delete(ctx, req.SessionID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// --- bridge lifecycle ---

type instanceRequest struct {
	InstanceID string `json:"instanceId"`
}

func (a *API) bridge(msg *ws.Message) (*session.Bridge, *ws.Message) {
	var req instanceRequest
	if err := msg.ParsePayload(&req); err != nil {
		errMsg, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
		return nil, errMsg
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		errMsg, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
		return nil, errMsg
	}
	return b, nil
}

func (a *API) bridgeCreate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		AgentName string `json:"agentName"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, err := a.Manager.Create(req.AgentName)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"instanceId": b.ID,
		"state":      string(b.State()),
	})
}

// bridgeConnect starts the connection attempt in the background. Connecting
// can block on the user choosing an auth method over this same socket, so
// completion arrives as bridge.state events instead of in this response.
func (a *API) bridgeConnect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID      string `json:"instanceId"`
		Cwd             string `json:"cwd"`
		ResumeSessionID string `json:"resumeSessionId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}

	go func() {
		if err := b.Connect(context.Background(), req.Cwd, req.ResumeSessionID); err != nil {
			a.logger.Warn("connect failed",
				zap.String("instance_id", req.InstanceID),
				zap.Error(err))
		}
	}()

	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"started":    true,
		"instanceId": req.InstanceID,
	})
}

func (a *API) bridgeCancelConnect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	b, errMsg := a.bridge(msg)
	if errMsg != nil {
		return errMsg, nil
	}
	b.CancelConnect()
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) bridgeList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	type bridgeInfo struct {
		InstanceID string           `json:"instanceId"`
		AgentName  string           `json:"agentName"`
		State      string           `json:"state"`
		Session    *session.Session `json:"session,omitempty"`
	}

	bridges := a.Manager.List()
	infos := make([]bridgeInfo, 0, len(bridges))
	for _, b := range bridges {
		info := bridgeInfo{
			InstanceID: b.ID,
			AgentName:  b.AgentName(),
			State:      string(b.State()),
		}
		if sess, ok := b.Session(); ok {
			info.Session = &sess
		}
		infos = append(infos, info)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"bridges": infos})
}

func (a *API) bridgeClose(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req instanceRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	a.Manager.Close(req.InstanceID)
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// --- conversation ---

// bridgePrompt submits the turn in the background; the stop reason arrives
// as a bridge.turn event when the agent finishes.
func (a *API) bridgePrompt(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID string `json:"instanceId"`
		Text       string `json:"text"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}
	if req.Text == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "text is required", nil)
	}

	go func() {
		if _, err := b.Prompt(context.Background(), req.Text); err != nil {
			a.logger.Warn("prompt failed",
				zap.String("instance_id", req.InstanceID),
				zap.Error(err))
		}
	}()

	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"accepted": true})
}

func (a *API) bridgeCancelTurn(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	b, errMsg := a.bridge(msg)
	if errMsg != nil {
		return errMsg, nil
	}
	if err := b.CancelTurn(); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) bridgeTranscript(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	b, errMsg := a.bridge(msg)
	if errMsg != nil {
		return errMsg, nil
	}
	tr := b.Transcript()
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"messages":          tr.Snapshot(),
		"currentModeId":     tr.CurrentModeID(),
		"availableCommands": tr.AvailableCommands(),
		"modes":             b.Modes(),
		"models":            b.Models(),
	})
}

func (a *API) bridgeSetMode(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID string `json:"instanceId"`
		ModeID     string `json:"modeId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}
	if err := b.SetMode(ctx, req.ModeID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) bridgeSetModel(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID string `json:"instanceId"`
		ModelID    string `json:"modelId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}
	if err := b.SetModel(ctx, req.ModelID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

// --- human decisions ---

func (a *API) permissionResolve(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID string `json:"instanceId"`
		RequestID  string `json:"requestId"`
		OptionID   string `json:"optionId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}
	if err := b.Arbitrator().ResolvePermission(req.RequestID, req.OptionID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}

func (a *API) authChoose(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req struct {
		InstanceID string `json:"instanceId"`
		PromptID   string `json:"promptId"`
		MethodID   string `json:"methodId"`
	}
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, err.Error(), nil)
	}
	b, ok := a.Manager.Get(req.InstanceID)
	if !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			"unknown instance: "+req.InstanceID, nil)
	}
	if err := b.Arbitrator().ChooseAuthMethod(req.PromptID, req.MethodID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound, err.Error(), nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
}
