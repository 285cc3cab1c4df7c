// Package interaction parks agent questions that need a human answer. A
// permission request stays open until the user picks an option, the turn is
// cancelled, or the agent goes away; the asking goroutine blocks the whole
// time, which holds the JSON-RPC response open on the wire.
package interaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formulahendry/acp-ui/pkg/acp/jsonrpc"
)

var (
	// ErrBusy means a question of the same kind is already waiting for the
	// user. The bridge rejects the newcomer instead of queueing it.
	ErrBusy = errors.New("interaction: another request is already pending")
	// ErrUnknownRequest means the resolution names a request that is not
	// pending, usually because it was already cancelled.
	ErrUnknownRequest = errors.New("interaction: no pending request with that id")
)

// OutcomeCancelled is the permission outcome sent when nobody answered.
const OutcomeCancelled = "cancelled"

// PermissionRequest is an agent's request to run a tool, awaiting a verdict.
type PermissionRequest struct {
	ID        string                     `json:"id"`
	SessionID string                     `json:"sessionId"`
	ToolCall  jsonrpc.ToolCallRef        `json:"toolCall"`
	Options   []jsonrpc.PermissionOption `json:"options"`
	CreatedAt time.Time                  `json:"createdAt"`
}

// AuthPrompt asks the user to pick one of the agent's auth methods.
type AuthPrompt struct {
	ID      string               `json:"id"`
	Methods []jsonrpc.AuthMethod `json:"methods"`
}

type permissionSlot struct {
	req PermissionRequest
	ch  chan jsonrpc.PermissionOutcome
}

type authSlot struct {
	prompt AuthPrompt
	ch     chan string
}

// Arbitrator serializes user-facing questions: at most one permission
// request and one auth prompt may be open at a time.
type Arbitrator struct {
	mu         sync.Mutex
	permission *permissionSlot
	auth       *authSlot
}

// New creates an Arbitrator with no pending questions.
func New() *Arbitrator {
	return &Arbitrator{}
}

// AskPermission blocks until the user answers, the context expires, or the
// question is cancelled. If another permission request is already open it
// fails immediately with ErrBusy; the caller should answer the agent with a
// cancelled outcome. A non-nil onPosted runs after the request is
// registered and before blocking, so callers can announce it.
func (a *Arbitrator) AskPermission(ctx context.Context, sessionID string, toolCall jsonrpc.ToolCallRef, options []jsonrpc.PermissionOption, onPosted func(PermissionRequest)) (PermissionRequest, jsonrpc.PermissionOutcome, error) {
	slot := &permissionSlot{
		req: PermissionRequest{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			ToolCall:  toolCall,
			Options:   options,
			CreatedAt: time.Now().UTC(),
		},
		ch: make(chan jsonrpc.PermissionOutcome, 1),
	}

	a.mu.Lock()
	if a.permission != nil {
		a.mu.Unlock()
		return slot.req, jsonrpc.PermissionOutcome{}, ErrBusy
	}
	a.permission = slot
	a.mu.Unlock()

	if onPosted != nil {
		onPosted(slot.req)
	}

	select {
	case outcome := <-slot.ch:
		return slot.req, outcome, nil
	case <-ctx.Done():
		a.clearPermission(slot)
		return slot.req, jsonrpc.PermissionOutcome{Outcome: OutcomeCancelled}, nil
	}
}

// ResolvePermission answers the pending permission request with the option
// the user picked.
func (a *Arbitrator) ResolvePermission(requestID, optionID string) error {
	return a.finishPermission(requestID, jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: optionID})
}

// CancelPermission answers the pending permission request, if any, with a
// cancelled outcome. Used when the turn is cancelled or the agent dies.
// It is a no-op when nothing is pending.
func (a *Arbitrator) CancelPermission() {
	a.mu.Lock()
	slot := a.permission
	a.permission = nil
	a.mu.Unlock()
	if slot != nil {
		slot.ch <- jsonrpc.PermissionOutcome{Outcome: OutcomeCancelled}
	}
}

func (a *Arbitrator) finishPermission(requestID string, outcome jsonrpc.PermissionOutcome) error {
	a.mu.Lock()
	slot := a.permission
	if slot == nil || slot.req.ID != requestID {
		a.mu.Unlock()
		return ErrUnknownRequest
	}
	a.permission = nil
	a.mu.Unlock()

	slot.ch <- outcome
	return nil
}

func (a *Arbitrator) clearPermission(slot *permissionSlot) {
	a.mu.Lock()
	if a.permission == slot {
		a.permission = nil
	}
	a.mu.Unlock()
}

// PendingPermission returns the open permission request, if any. Lets a
// freshly connected UI re-render the dialog.
func (a *Arbitrator) PendingPermission() (PermissionRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.permission == nil {
		return PermissionRequest{}, false
	}
	return a.permission.req, true
}

// AskAuthMethod blocks until the user picks an auth method or the context
// expires. Only one auth prompt may be open at a time. A non-nil onPosted
// runs after registration and before blocking.
func (a *Arbitrator) AskAuthMethod(ctx context.Context, methods []jsonrpc.AuthMethod, onPosted func(AuthPrompt)) (AuthPrompt, string, error) {
	slot := &authSlot{
		prompt: AuthPrompt{ID: uuid.NewString(), Methods: methods},
		ch:     make(chan string, 1),
	}

	a.mu.Lock()
	if a.auth != nil {
		a.mu.Unlock()
		return slot.prompt, "", ErrBusy
	}
	a.auth = slot
	a.mu.Unlock()

	if onPosted != nil {
		onPosted(slot.prompt)
	}

	select {
	case methodID, ok := <-slot.ch:
		if !ok {
			return slot.prompt, "", context.Canceled
		}
		return slot.prompt, methodID, nil
	case <-ctx.Done():
		a.mu.Lock()
		if a.auth == slot {
			a.auth = nil
		}
		a.mu.Unlock()
		return slot.prompt, "", ctx.Err()
	}
}

// ChooseAuthMethod answers the pending auth prompt.
func (a *Arbitrator) ChooseAuthMethod(promptID, methodID string) error {
	a.mu.Lock()
	slot := a.auth
	if slot == nil || slot.prompt.ID != promptID {
		a.mu.Unlock()
		return ErrUnknownRequest
	}
	a.auth = nil
	a.mu.Unlock()

	slot.ch <- methodID
	return nil
}

// PendingAuth returns the open auth prompt, if any.
func (a *Arbitrator) PendingAuth() (AuthPrompt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.auth == nil {
		return AuthPrompt{}, false
	}
	return a.auth.prompt, true
}

// CancelAll abandons every pending question. Permission waiters get a
// cancelled outcome; auth waiters are left to their context.
func (a *Arbitrator) CancelAll() {
	a.CancelPermission()
	a.mu.Lock()
	slot := a.auth
	a.auth = nil
	a.mu.Unlock()
	if slot != nil {
		close(slot.ch)
	}
}
