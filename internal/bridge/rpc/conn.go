// Package rpc implements the JSON-RPC 2.0 multiplexer that carries ACP
// traffic between the bridge and a single agent process. It correlates
// outgoing requests with responses by id, dispatches agent-initiated
// requests and notifications to registered handlers, and taps every frame
// for traffic recording.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

// Sentinel errors returned by Call.
var (
	// ErrTimeout is returned when the agent does not answer within the
	// per-request deadline.
	ErrTimeout = errors.New("rpc: request timed out")
	// ErrDisconnected is returned for requests that were in flight when the
	// connection closed, and for requests issued after it closed.
	ErrDisconnected = errors.New("rpc: connection closed")
)

// DefaultRequestTimeout bounds every outgoing request unless the caller's
// context expires first.
const DefaultRequestTimeout = 60 * time.Second

// Channel is the outbound half of an agent connection. The agent process
// implements it over the child's stdin.
type Channel interface {
	// Send writes one frame. The connection appends the trailing newline.
	Send(line []byte) error
	// Close tears down the underlying transport.
	Close() error
}

// Direction of a tapped frame.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Tap observes every frame that crosses the connection, in both directions.
// Payload is the raw wire bytes without the trailing newline.
type Tap func(dir Direction, payload []byte)

// RequestHandler serves an agent-initiated request. The returned value is
// marshaled as the result; a *jsonrpc.Error return is sent as the error
// member instead.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error)

// NotificationHandler consumes an agent-initiated notification.
type NotificationHandler func(params json.RawMessage)

// Conn multiplexes JSON-RPC 2.0 frames over a line-delimited byte channel.
// Outgoing request ids are monotonically increasing integers and are never
// reused for the lifetime of the connection.
type Conn struct {
	ch      Channel
	timeout time.Duration

	requestID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *jsonrpc.Response
	closed  bool

	handlerMu     sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	tap           Tap

	logger *logger.Logger
}

// Option configures a Conn.
type Option func(*Conn)

// WithTimeout overrides the default per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewConn creates a connection over ch. The caller feeds inbound lines via
// HandleLine and must call CloseWith when the transport dies.
func NewConn(ch Channel, log *logger.Logger, opts ...Option) *Conn {
	c := &Conn{
		ch:            ch,
		timeout:       DefaultRequestTimeout,
		pending:       make(map[int64]chan *jsonrpc.Response),
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		logger:        log.WithFields(zap.String("component", "rpc-conn")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRequest registers the handler for an agent-initiated request method.
func (c *Conn) OnRequest(method string, handler RequestHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.requests[method] = handler
}

// OnNotification registers the handler for an agent-initiated notification.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.notifications[method] = handler
}

// SetTap installs the frame observer. Pass nil to remove it.
func (c *Conn) SetTap(tap Tap) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tap = tap
}

func (c *Conn) observe(dir Direction, payload []byte) {
	c.handlerMu.RLock()
	tap := c.tap
	c.handlerMu.RUnlock()
	if tap != nil {
		tap(dir, payload)
	}
}

// Call sends a request and waits for the matching response. It fails with
// ErrTimeout after the per-request deadline, ErrDisconnected if the
// connection closes first, or ctx.Err() if the caller's context expires.
// A response carrying an error member is returned as a *jsonrpc.Error.
func (c *Conn) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := c.requestID.Add(1)

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}

	respCh := make(chan *jsonrpc.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	req := &jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	if err := c.send(req); err != nil {
		c.takePending(id)
		return err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp == nil {
			return ErrDisconnected
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("rpc: unmarshal %s result: %w", method, err)
			}
		}
		return nil
	case <-timer.C:
		c.takePending(id)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.timeout)
	case <-ctx.Done():
		c.takePending(id)
		return ctx.Err()
	}
}

// Notify sends a notification. No response is expected or correlated.
func (c *Conn) Notify(method string, params interface{}) error {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(&jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON})
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal params: %w", err)
	}
	return data, nil
}

func (c *Conn) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrDisconnected
	}
	// The channel serializes its own writes; holding mu here would
	// deadlock against handlers that respond on the calling goroutine.
	if err := c.ch.Send(data); err != nil {
		return fmt.Errorf("rpc: send frame: %w", err)
	}

	c.observe(DirectionOutgoing, data)
	return nil
}

// takePending removes and returns the pending channel for id, claiming the
// sole right to resolve that request.
func (c *Conn) takePending(id int64) chan *jsonrpc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

// HandleLine processes one inbound frame. Responses resolve pending calls,
// requests are served on their own goroutine (handlers may block on user
// interaction), and notifications are dispatched synchronously so callers
// observe them in arrival order.
func (c *Conn) HandleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	c.observe(DirectionIncoming, line)

	var msg struct {
		ID     interface{}     `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *jsonrpc.Error  `json:"error"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("discarding unparseable frame", zap.Error(err))
		return
	}

	hasID := msg.ID != nil
	hasMethod := msg.Method != ""

	switch {
	case hasID && !hasMethod:
		c.handleResponse(msg.ID, msg.Result, msg.Error)
	case hasID && hasMethod:
		go c.handleRequest(msg.ID, msg.Method, msg.Params)
	case hasMethod:
		c.handleNotification(msg.Method, msg.Params)
	default:
		c.logger.Warn("discarding frame with neither id nor method")
	}
}

func (c *Conn) handleResponse(rawID interface{}, result json.RawMessage, wireErr *jsonrpc.Error) {
	id, ok := normalizeID(rawID)
	if !ok {
		c.logger.Warn("response with non-numeric id", zap.Any("id", rawID))
		return
	}
	ch := c.takePending(id)
	if ch == nil {
		c.logger.Warn("response for unknown or abandoned request", zap.Int64("id", id))
		return
	}
	ch <- &jsonrpc.Response{JSONRPC: "2.0", ID: id, Result: result, Error: wireErr}
}

func normalizeID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (c *Conn) handleRequest(id interface{}, method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request handler panicked",
				zap.String("method", method),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			c.respond(id, nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "Internal error"})
		}
	}()

	c.handlerMu.RLock()
	handler := c.requests[method]
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.Warn("no handler for agent request", zap.String("method", method))
		c.respond(id, nil, &jsonrpc.Error{Code: jsonrpc.MethodNotFound, Message: "Method not found"})
		return
	}

	result, rpcErr := handler(context.Background(), params)
	if rpcErr != nil {
		c.respond(id, nil, rpcErr)
		return
	}
	c.respond(id, result, nil)
}

func (c *Conn) respond(id interface{}, result interface{}, rpcErr *jsonrpc.Error) {
	resp := &jsonrpc.Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			c.logger.Error("failed to marshal response result", zap.Error(err))
			resp.Error = &jsonrpc.Error{Code: jsonrpc.InternalError, Message: "Internal error"}
		} else {
			resp.Result = data
		}
	}
	if err := c.send(resp); err != nil {
		c.logger.Warn("failed to send response", zap.Error(err))
	}
}

func (c *Conn) handleNotification(method string, params json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification handler panicked",
				zap.String("method", method),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	c.handlerMu.RLock()
	handler := c.notifications[method]
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.Debug("ignoring notification without handler", zap.String("method", method))
		return
	}
	handler(params)
}

// CloseWith marks the connection dead, fails every in-flight call with
// ErrDisconnected, and closes the underlying channel. Safe to call more
// than once.
func (c *Conn) CloseWith(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan *jsonrpc.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		// nil resolves the waiter to ErrDisconnected
		ch <- nil
	}

	if cause != nil {
		c.logger.Debug("connection closed", zap.Error(cause))
	}
	return c.ch.Close()
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
