// Package bus provides the event bus that fans bridge and registry events
// out to WebSocket clients and any other interested component.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formulahendry/acp-ui/internal/common/config"
	"github.com/formulahendry/acp-ui/internal/common/logger"
)

// Subjects published by the bridge and registry. The %s slot is the agent
// instance id.
const (
	SubjectBridgeState      = "bridge.%s.state"
	SubjectBridgeTranscript = "bridge.%s.transcript"
	SubjectBridgePermission = "bridge.%s.permission"
	SubjectBridgeAuth       = "bridge.%s.auth"
	SubjectBridgeStderr     = "bridge.%s.stderr"
	SubjectBridgeTurn       = "bridge.%s.turn"
	SubjectRegistryChanged  = "registry.changed"

	// SubjectAllBridges matches every bridge event regardless of instance.
	SubjectAllBridges = "bridge.>"
)

// BridgeSubject formats an instance-scoped subject.
func BridgeSubject(pattern, instanceID string) string {
	return fmt.Sprintf(pattern, instanceID)
}

// Event is a message on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event with a fresh id and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription handle.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus abstracts the transport. Two implementations exist: in-memory
// for single-process desktop use and NATS for running the UI remotely.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern. NATS-style
	// wildcards are supported: * matches one token, > matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	Close()
	IsConnected() bool
}

// New selects the bus implementation from config: a NATS URL connects to
// NATS, an empty URL yields the in-process bus.
func New(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(cfg, log)
}
