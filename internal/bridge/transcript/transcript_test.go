package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

func agentChunk(text string) jsonrpc.SessionUpdate {
	return jsonrpc.SessionUpdate{
		Kind:              jsonrpc.UpdateAgentMessageChunk,
		AgentMessageChunk: &jsonrpc.MessageChunk{Content: jsonrpc.TextBlock(text)},
	}
}

func thoughtChunk(text string) jsonrpc.SessionUpdate {
	return jsonrpc.SessionUpdate{
		Kind:              jsonrpc.UpdateAgentThoughtChunk,
		AgentThoughtChunk: &jsonrpc.MessageChunk{Content: jsonrpc.TextBlock(text)},
	}
}

func toolCallStart(id, title string) jsonrpc.SessionUpdate {
	return jsonrpc.SessionUpdate{
		Kind:     jsonrpc.UpdateToolCall,
		ToolCall: &jsonrpc.ToolCallStart{ToolCallID: id, Title: title, Status: "in_progress"},
	}
}

func strptr(s string) *string { return &s }

func TestAgentChunksFoldIntoOneMessage(t *testing.T) {
	tr := New()
	tr.Apply(agentChunk("Hel"))
	tr.Apply(agentChunk("lo"))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestThoughtChunksTargetTrailingAssistantMessage(t *testing.T) {
	tr := New()
	tr.Apply(thoughtChunk("thinking"))
	tr.Apply(thoughtChunk(" hard"))
	tr.Apply(agentChunk("The answer is 4."))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "thinking hard", msgs[0].Thought)
	assert.Equal(t, "The answer is 4.", msgs[0].Content)
}

func TestThoughtAfterUserMessageCreatesAssistantMessage(t *testing.T) {
	tr := New()
	tr.AppendUserMessage("why?")
	tr.Apply(thoughtChunk("hmm"))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hmm", msgs[1].Thought)
	assert.Empty(t, msgs[1].Content)
}

func TestRoleChangeStartsNewMessage(t *testing.T) {
	tr := New()
	tr.AppendUserMessage("first question")
	tr.Apply(agentChunk("answer one"))
	tr.AppendUserMessage("second question")
	tr.Apply(agentChunk("answer two"))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, RoleUser, msgs[2].Role)
	assert.Equal(t, "answer two", msgs[3].Content)
}

func TestToolCallEmbedsInTrailingAssistantMessage(t *testing.T) {
	tr := New()
	tr.Apply(agentChunk("Let me check."))
	tr.Apply(toolCallStart("tc-1", "Read file"))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "Read file", msgs[0].ToolCalls[0].Title)

	rec, ok := tr.ToolCall("tc-1")
	require.True(t, ok)
	assert.Equal(t, "in_progress", rec.Status)
}

func TestToolCallWithoutAssistantMessageCreatesOne(t *testing.T) {
	tr := New()
	tr.AppendUserMessage("run the tests")
	tr.Apply(toolCallStart("tc-1", "Run tests"))

	msgs := tr.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
}

func TestToolCallUpdatePatchesBothCopies(t *testing.T) {
	tr := New()
	tr.Apply(agentChunk("Working."))
	tr.Apply(toolCallStart("tc-1", "Edit file"))
	tr.Apply(jsonrpc.SessionUpdate{
		Kind: jsonrpc.UpdateToolCallUpdate,
		ToolCallUpdate: &jsonrpc.ToolCallPatch{
			ToolCallID: "tc-1",
			Status:     strptr("completed"),
			RawOutput:  json.RawMessage(`{"ok":true}`),
		},
	})

	rec, ok := tr.ToolCall("tc-1")
	require.True(t, ok)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "Edit file", rec.Title)

	msgs := tr.Snapshot()
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "completed", msgs[0].ToolCalls[0].Status)
	assert.JSONEq(t, `{"ok":true}`, string(msgs[0].ToolCalls[0].RawOutput))
}

func TestToolCallUpdateIsIdempotent(t *testing.T) {
	tr := New()
	tr.Apply(toolCallStart("tc-1", "Search"))
	patch := jsonrpc.SessionUpdate{
		Kind:           jsonrpc.UpdateToolCallUpdate,
		ToolCallUpdate: &jsonrpc.ToolCallPatch{ToolCallID: "tc-1", Status: strptr("completed")},
	}
	tr.Apply(patch)
	tr.Apply(patch)

	rec, _ := tr.ToolCall("tc-1")
	assert.Equal(t, "completed", rec.Status)
	msgs := tr.Snapshot()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
}

func TestUnknownToolCallUpdateIsIgnored(t *testing.T) {
	tr := New()
	tr.Apply(jsonrpc.SessionUpdate{
		Kind:           jsonrpc.UpdateToolCallUpdate,
		ToolCallUpdate: &jsonrpc.ToolCallPatch{ToolCallID: "ghost", Status: strptr("completed")},
	})

	assert.Equal(t, 0, tr.Len())
	_, ok := tr.ToolCall("ghost")
	assert.False(t, ok)
}

func TestDuplicateToolCallAnnouncementIsNotRecreated(t *testing.T) {
	tr := New()
	tr.Apply(toolCallStart("tc-1", "Search"))
	tr.Apply(jsonrpc.SessionUpdate{
		Kind:           jsonrpc.UpdateToolCallUpdate,
		ToolCallUpdate: &jsonrpc.ToolCallPatch{ToolCallID: "tc-1", Status: strptr("completed")},
	})
	tr.Apply(toolCallStart("tc-1", "Search"))

	rec, _ := tr.ToolCall("tc-1")
	assert.Equal(t, "completed", rec.Status)
	msgs := tr.Snapshot()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].ToolCalls, 1)
}

func TestModeAndCommandUpdates(t *testing.T) {
	tr := New()
	tr.Apply(jsonrpc.SessionUpdate{
		Kind:        jsonrpc.UpdateCurrentMode,
		CurrentMode: &jsonrpc.CurrentModeUpdate{CurrentModeID: "plan"},
	})
	tr.Apply(jsonrpc.SessionUpdate{
		Kind: jsonrpc.UpdateAvailableCommands,
		AvailableCommands: &jsonrpc.AvailableCommandsUpdate{
			AvailableCommands: []jsonrpc.AvailableCommand{{Name: "compact"}},
		},
	})

	assert.Equal(t, "plan", tr.CurrentModeID())
	require.Len(t, tr.AvailableCommands(), 1)
	assert.Equal(t, 0, tr.Len())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := New()
	tr.Apply(agentChunk("partial"))
	tr.Apply(toolCallStart("tc-1", "Search"))

	snap := tr.Snapshot()
	tr.Apply(jsonrpc.SessionUpdate{
		Kind:           jsonrpc.UpdateToolCallUpdate,
		ToolCallUpdate: &jsonrpc.ToolCallPatch{ToolCallID: "tc-1", Status: strptr("completed")},
	})

	assert.Equal(t, "in_progress", snap[0].ToolCalls[0].Status)
	assert.Equal(t, "completed", tr.Snapshot()[0].ToolCalls[0].Status)
}

func TestResetClearsEverything(t *testing.T) {
	tr := New()
	tr.AppendUserMessage("hi")
	tr.Apply(toolCallStart("tc-1", "x"))
	tr.Apply(jsonrpc.SessionUpdate{
		Kind:        jsonrpc.UpdateCurrentMode,
		CurrentMode: &jsonrpc.CurrentModeUpdate{CurrentModeID: "code"},
	})

	tr.Reset()

	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, "", tr.CurrentModeID())
	_, ok := tr.ToolCall("tc-1")
	assert.False(t, ok)
}

func TestUnknownUpdateKindIsIgnored(t *testing.T) {
	tr := New()
	tr.Apply(jsonrpc.SessionUpdate{Kind: "some_future_update"})
	assert.Equal(t, 0, tr.Len())
}
