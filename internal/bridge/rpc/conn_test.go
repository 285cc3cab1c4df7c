package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

// fakeChannel records sent frames and lets tests inject responses.
type fakeChannel struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (f *fakeChannel) Send(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("channel closed")
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) lastFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	frames := f.frames()
	require.NotEmpty(t, frames)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &m))
	return m
}

func newTestConn(t *testing.T, opts ...Option) (*Conn, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	return NewConn(ch, log, opts...), ch
}

func respond(conn *Conn, id int64, result interface{}) {
	data, _ := json.Marshal(result)
	line, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  json.RawMessage(data),
	})
	conn.HandleLine(line)
}

func TestCallCorrelatesResponseByID(t *testing.T) {
	conn, ch := newTestConn(t)

	type result struct {
		Value string `json:"value"`
	}

	done := make(chan result, 1)
	go func() {
		var res result
		if err := conn.Call(context.Background(), "test/echo", map[string]string{"k": "v"}, &res); err == nil {
			done <- res
		}
	}()

	// Wait until the request frame is on the wire.
	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)

	frame := ch.lastFrame(t)
	assert.Equal(t, "2.0", frame["jsonrpc"])
	assert.Equal(t, "test/echo", frame["method"])
	id := int64(frame["id"].(float64))

	respond(conn, id, result{Value: "hello"})

	select {
	case res := <-done:
		assert.Equal(t, "hello", res.Value)
	case <-time.After(time.Second):
		t.Fatal("call did not complete")
	}
}

func TestCallIDsAreMonotonic(t *testing.T) {
	conn, ch := newTestConn(t)

	for i := 0; i < 3; i++ {
		go func() {
			_ = conn.Call(context.Background(), "test/seq", nil, nil)
		}()
	}
	require.Eventually(t, func() bool { return len(ch.frames()) == 3 }, time.Second, 5*time.Millisecond)

	seen := map[int64]bool{}
	for _, raw := range ch.frames() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &m))
		id := int64(m["id"].(float64))
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
	for id := range seen {
		respond(conn, id, struct{}{})
	}
}

func TestCallReturnsWireError(t *testing.T) {
	conn, ch := newTestConn(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Call(context.Background(), "session/prompt", nil, nil)
	}()
	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)

	id := int64(ch.lastFrame(t)["id"].(float64))
	line, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": -32000, "message": "Authentication required"},
	})
	conn.HandleLine(line)

	err := <-errCh
	require.Error(t, err)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.True(t, jsonrpc.IsAuthRequired(rpcErr))
}

func TestCallTimesOut(t *testing.T) {
	conn, _ := newTestConn(t, WithTimeout(20*time.Millisecond))

	err := conn.Call(context.Background(), "test/slow", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallTimeoutLeavesOtherCallsUnaffected(t *testing.T) {
	conn, ch := newTestConn(t, WithTimeout(60*time.Millisecond))

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- conn.Call(context.Background(), "test/slow", nil, nil)
	}()
	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, time.Millisecond)

	type result struct {
		Value string `json:"value"`
	}
	var res result
	fastErr := make(chan error, 1)
	go func() {
		fastErr <- conn.Call(context.Background(), "test/fast", nil, &res)
	}()
	require.Eventually(t, func() bool { return len(ch.frames()) == 2 }, time.Second, time.Millisecond)

	var fastID int64
	for _, raw := range ch.frames() {
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame["method"] == "test/fast" {
			fastID = int64(frame["id"].(float64))
		}
	}
	respond(conn, fastID, result{Value: "ok"})

	require.NoError(t, <-fastErr)
	assert.Equal(t, "ok", res.Value)

	// The unanswered call still expires on its own deadline.
	assert.ErrorIs(t, <-slowErr, ErrTimeout)
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	conn, ch := newTestConn(t, WithTimeout(20*time.Millisecond))

	err := conn.Call(context.Background(), "test/slow", nil, nil)
	require.ErrorIs(t, err, ErrTimeout)

	// The late response must not panic or resolve anything.
	id := int64(ch.lastFrame(t)["id"].(float64))
	respond(conn, id, struct{}{})
}

func TestCloseWithFailsInFlightCalls(t *testing.T) {
	conn, ch := newTestConn(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Call(context.Background(), "test/hang", nil, nil)
	}()
	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.CloseWith(errors.New("process exited")))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("in-flight call not resolved on close")
	}

	// New calls fail fast.
	assert.ErrorIs(t, conn.Call(context.Background(), "test/after", nil, nil), ErrDisconnected)
	assert.True(t, conn.Closed())
}

func TestUnknownRequestMethodGetsMethodNotFound(t *testing.T) {
	conn, ch := newTestConn(t)

	line, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      99,
		"method":  "fs/unknown_thing",
	})
	conn.HandleLine(line)

	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)
	frame := ch.lastFrame(t)
	errObj := frame["error"].(map[string]interface{})
	assert.Equal(t, float64(jsonrpc.MethodNotFound), errObj["code"])
	assert.Equal(t, float64(99), frame["id"])
}

func TestRequestHandlerPanicBecomesInternalError(t *testing.T) {
	conn, ch := newTestConn(t)
	conn.OnRequest("fs/read_text_file", func(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
		panic("boom")
	})

	line, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "fs/read_text_file",
	})
	conn.HandleLine(line)

	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)
	errObj := ch.lastFrame(t)["error"].(map[string]interface{})
	assert.Equal(t, float64(jsonrpc.InternalError), errObj["code"])
}

func TestRequestHandlerResultIsSent(t *testing.T) {
	conn, ch := newTestConn(t)
	conn.OnRequest("fs/read_text_file", func(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
		var p jsonrpc.ReadTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid params"}
		}
		return jsonrpc.ReadTextFileResult{Content: "file: " + p.Path}, nil
	})

	params, _ := json.Marshal(jsonrpc.ReadTextFileParams{SessionID: "s1", Path: "/tmp/a.txt"})
	line, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "fs/read_text_file",
		"params":  json.RawMessage(params),
	})
	conn.HandleLine(line)

	require.Eventually(t, func() bool { return len(ch.frames()) == 1 }, time.Second, 5*time.Millisecond)
	frame := ch.lastFrame(t)
	result := frame["result"].(map[string]interface{})
	assert.Equal(t, "file: /tmp/a.txt", result["content"])
}

func TestNotificationsDispatchInArrivalOrder(t *testing.T) {
	conn, _ := newTestConn(t)

	var got []int
	conn.OnNotification("session/update", func(params json.RawMessage) {
		var p struct {
			Seq int `json:"seq"`
		}
		_ = json.Unmarshal(params, &p)
		got = append(got, p.Seq)
	})

	for i := 0; i < 5; i++ {
		line, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "session/update",
			"params":  map[string]int{"seq": i},
		})
		conn.HandleLine(line)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestNotifyOmitsID(t *testing.T) {
	conn, ch := newTestConn(t)
	require.NoError(t, conn.Notify("session/cancel", jsonrpc.SessionCancelParams{SessionID: "s1"}))

	frame := ch.lastFrame(t)
	_, hasID := frame["id"]
	assert.False(t, hasID)
	assert.Equal(t, "session/cancel", frame["method"])
}

func TestTapSeesBothDirections(t *testing.T) {
	conn, _ := newTestConn(t)

	var mu sync.Mutex
	var taps []string
	conn.SetTap(func(dir Direction, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		taps = append(taps, fmt.Sprintf("%s:%s", dir, payload))
	})

	require.NoError(t, conn.Notify("session/cancel", nil))
	conn.HandleLine([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, taps, 2)
	assert.Contains(t, taps[0], string(DirectionOutgoing))
	assert.Contains(t, taps[1], string(DirectionIncoming))
}

func TestUnparseableLineIsIgnored(t *testing.T) {
	conn, ch := newTestConn(t)
	conn.HandleLine([]byte("not json at all"))
	conn.HandleLine(nil)
	assert.Empty(t, ch.frames())
}
