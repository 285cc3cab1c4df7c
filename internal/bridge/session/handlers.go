package session

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/bridge/interaction"
	"github.com/formulahendry/acp-ui/internal/bridge/rpc"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

// registerHandlers wires the agent-initiated traffic into the bridge.
func (b *Bridge) registerHandlers(conn *rpc.Conn) {
	conn.OnNotification(jsonrpc.NotificationSessionUpdate, b.handleSessionUpdate)
	conn.OnRequest(jsonrpc.MethodRequestPermission, b.handleRequestPermission)
	conn.OnRequest(jsonrpc.MethodReadTextFile, b.handleReadTextFile)
	conn.OnRequest(jsonrpc.MethodWriteTextFile, b.handleWriteTextFile)
}

// handleSessionUpdate folds a streamed update into the transcript. Runs
// synchronously on the read path so arrival order is preserved.
func (b *Bridge) handleSessionUpdate(params json.RawMessage) {
	var p jsonrpc.SessionUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		b.logger.Warn("dropping malformed session/update", zap.Error(err))
		return
	}
	if p.Update.Kind != "" && p.Update.UserMessageChunk == nil && p.Update.AgentMessageChunk == nil &&
		p.Update.AgentThoughtChunk == nil && p.Update.ToolCall == nil && p.Update.ToolCallUpdate == nil &&
		p.Update.CurrentMode == nil && p.Update.AvailableCommands == nil {
		b.logger.Debug("ignoring unrecognized session update", zap.String("kind", p.Update.Kind))
		return
	}
	b.transcript.Apply(p.Update)
	b.publishTranscript()
}

// handleRequestPermission parks the agent's request with the arbitrator.
// The wire response stays open until the user decides; this handler runs on
// its own goroutine so blocking here never stalls the read loop.
func (b *Bridge) handleRequestPermission(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.RequestPermissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid permission request params"}
	}

	req, outcome, err := b.arbitrator.AskPermission(ctx, p.SessionID, p.ToolCall, p.Options,
		func(posted interaction.PermissionRequest) {
			b.publish(bus.SubjectBridgePermission, "bridge.permission.pending", map[string]interface{}{
				"request": posted,
			})
		})
	if err != nil {
		if errors.Is(err, interaction.ErrBusy) {
			// A second concurrent request is a protocol violation; answer
			// it as cancelled so the agent is never left hanging.
			b.logger.Warn("rejecting concurrent permission request",
				zap.String("tool_call_id", p.ToolCall.ToolCallID))
			return jsonrpc.RequestPermissionResult{
				Outcome: jsonrpc.PermissionOutcome{Outcome: interaction.OutcomeCancelled},
			}, nil
		}
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}

	b.publish(bus.SubjectBridgePermission, "bridge.permission.resolved", map[string]interface{}{
		"requestId": req.ID,
		"outcome":   outcome,
	})

	return jsonrpc.RequestPermissionResult{Outcome: outcome}, nil
}

// handleReadTextFile serves fs/read_text_file. Failures become error
// responses; the agent always gets an answer.
func (b *Bridge) handleReadTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.ReadTextFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid read params"}
	}

	content, err := b.files.ReadText(p.Path, p.Line, p.Limit)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}
	return jsonrpc.ReadTextFileResult{Content: content}, nil
}

// handleWriteTextFile serves fs/write_text_file.
func (b *Bridge) handleWriteTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p jsonrpc.WriteTextFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid write params"}
	}

	if err := b.files.WriteText(p.Path, p.Content); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}
	return jsonrpc.WriteTextFileResult{}, nil
}
