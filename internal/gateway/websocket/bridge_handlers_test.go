package websocket

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulahendry/acp-ui/internal/agent/registry"
	"github.com/formulahendry/acp-ui/internal/bridge/session"
	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	"github.com/formulahendry/acp-ui/internal/sessionstore"
	ws "github.com/formulahendry/acp-ui/pkg/websocket"
)

func newTestAPI(t *testing.T) (*API, *ws.Dispatcher) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	reg, err := registry.New(filepath.Join(t.TempDir(), "agents.json"), eventBus, log)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	store, err := sessionstore.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := session.NewManager(reg, store, nil, eventBus, log, session.ManagerOptions{})
	t.Cleanup(manager.CloseAll)

	api := NewAPI(manager, reg, store, log)
	dispatcher := ws.NewDispatcher()
	api.Register(dispatcher)
	return api, dispatcher
}

func request(t *testing.T, action string, payload interface{}) *ws.Message {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = data
	}
	return &ws.Message{ID: "req-1", Type: ws.MessageTypeRequest, Action: action, Payload: raw}
}

func payloadOf(t *testing.T, msg *ws.Message) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &out))
	return out
}

func TestHealthCheck(t *testing.T) {
	_, d := newTestAPI(t)

	resp, err := d.Dispatch(context.Background(), request(t, ws.ActionHealthCheck, nil))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
	assert.Equal(t, "ok", payloadOf(t, resp)["status"])
}

func TestUnknownActionReturnsErrorMessage(t *testing.T) {
	_, d := newTestAPI(t)

	resp, err := d.Dispatch(context.Background(), request(t, "no.such.action", nil))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var ep ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&ep))
	assert.Equal(t, ws.ErrorCodeUnknownAction, ep.Code)
}

func TestAgentCatalogActions(t *testing.T) {
	_, d := newTestAPI(t)

	resp, err := d.Dispatch(context.Background(), request(t, ws.ActionAgentList, nil))
	require.NoError(t, err)
	agents := payloadOf(t, resp)["agents"].([]interface{})
	seeded := len(agents)
	require.Greater(t, seeded, 0, "catalog seeds defaults")

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionAgentAdd, registry.AgentDefinition{
		Name:    "Custom Agent",
		Command: "custom-agent",
		Args:    []string{"--acp"},
	}))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionAgentList, nil))
	require.NoError(t, err)
	assert.Len(t, payloadOf(t, resp)["agents"].([]interface{}), seeded+1)

	// Duplicate name is a validation error.
	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionAgentAdd, registry.AgentDefinition{
		Name:    "Custom Agent",
		Command: "other",
	}))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionAgentRemove,
		map[string]string{"name": "Custom Agent"}))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)
}

func TestSessionIndexActions(t *testing.T) {
	api, d := newTestAPI(t)

	require.NoError(t, api.Store.Save(context.Background(), &sessionstore.Record{
		SessionID: "s1",
		AgentName: "Claude Code",
		Title:     "Fix the build",
		Cwd:       "/work",
	}))

	resp, err := d.Dispatch(context.Background(), request(t, ws.ActionSessionList, nil))
	require.NoError(t, err)
	sessions := payloadOf(t, resp)["sessions"].([]interface{})
	require.Len(t, sessions, 1)

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionSessionDelete,
		map[string]string{"sessionId": "s1"}))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionSessionList, nil))
	require.NoError(t, err)
	assert.Empty(t, payloadOf(t, resp)["sessions"])
}

func TestBridgeCreateAndList(t *testing.T) {
	_, d := newTestAPI(t)

	resp, err := d.Dispatch(context.Background(), request(t, ws.ActionBridgeCreate,
		map[string]string{"agentName": "Claude Code"}))
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
	created := payloadOf(t, resp)
	instanceID := created["instanceId"].(string)
	assert.NotEmpty(t, instanceID)
	assert.Equal(t, "idle", created["state"])

	resp, err = d.Dispatch(context.Background(), request(t, ws.ActionBridgeList, nil))
	require.NoError(t, err)
	bridges := payloadOf(t, resp)["bridges"].([]interface{})
	require.Len(t, bridges, 1)
	info := bridges[0].(map[string]interface{})
	assert.Equal(t, instanceID, info["instanceId"])
	assert.Equal(t, "Claude Code", info["agentName"])
}

func TestBridgeCreateUnknownAgent(t *testing.T) {
	_, d := newTestAPI(t)

	resp, err := d.Dispatch(context.Background(), request(t, ws.ActionBridgeCreate,
		map[string]string{"agentName": "nope"}))
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var ep ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&ep))
	assert.Equal(t, ws.ErrorCodeNotFound, ep.Code)
}

func TestBridgeActionsOnUnknownInstance(t *testing.T) {
	_, d := newTestAPI(t)

	for _, action := range []string{
		ws.ActionBridgeCancelConnect,
		ws.ActionBridgeCancelTurn,
		ws.ActionBridgeTranscript,
	} {
		resp, err := d.Dispatch(context.Background(), request(t, action,
			map[string]string{"instanceId": "missing"}))
		require.NoError(t, err, action)
		assert.Equal(t, ws.MessageTypeError, resp.Type, action)
	}
}
