package traffic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordClassifiesFrames(t *testing.T) {
	r := NewRecorder(10)

	r.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1}}`))
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}`))
	r.Record("incoming", []byte(`garbage`))

	entries := r.Entries(Filter{})
	require.Len(t, entries, 4)

	assert.Equal(t, TypeRequest, entries[0].Type)
	assert.Equal(t, "initialize", entries[0].Method)
	assert.Equal(t, "outgoing", entries[0].Direction)

	assert.Equal(t, TypeResponse, entries[1].Type)
	assert.Empty(t, entries[1].Method)

	assert.Equal(t, TypeNotification, entries[2].Type)
	assert.Equal(t, "session/update", entries[2].Method)

	assert.Equal(t, TypeInvalid, entries[3].Type)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	r := NewRecorder(3)

	for i := 0; i < 5; i++ {
		r.Record("incoming", []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"m%d"}`, i)))
	}

	entries := r.Entries(Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].Method)
	assert.Equal(t, "m3", entries[1].Method)
	assert.Equal(t, "m4", entries[2].Method)
	assert.Equal(t, 3, r.Len())
}

func TestPauseDropsNewEntries(t *testing.T) {
	r := NewRecorder(10)

	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"kept"}`))
	r.Pause()
	assert.True(t, r.Paused())
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"dropped"}`))
	r.Resume()
	assert.False(t, r.Paused())
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"kept2"}`))

	entries := r.Entries(Filter{})
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0].Method)
	assert.Equal(t, "kept2", entries[1].Method)
}

func TestFilterByType(t *testing.T) {
	r := NewRecorder(10)
	r.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"session/prompt"}`))
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"session/update"}`))

	entries := r.Entries(Filter{Type: TypeNotification})
	require.Len(t, entries, 1)
	assert.Equal(t, "session/update", entries[0].Method)
}

func TestSearchMatchesMethodAndPayload(t *testing.T) {
	r := NewRecorder(10)
	r.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"session/prompt","params":{"text":"hello WORLD"}}`))
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"session/update"}`))

	byMethod := r.Entries(Filter{Search: "PROMPT"})
	require.Len(t, byMethod, 1)
	assert.Equal(t, "session/prompt", byMethod[0].Method)

	byPayload := r.Entries(Filter{Search: "world"})
	require.Len(t, byPayload, 1)

	assert.Empty(t, r.Entries(Filter{Search: "no-match"}))
}

func TestClear(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"x"}`))
	}
	r.Clear()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Entries(Filter{}))

	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"fresh"}`))
	require.Len(t, r.Entries(Filter{}), 1)
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	r := NewRecorder(0)
	r.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"x"}`))
	assert.Equal(t, 1, r.Len())
}
