package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	ws "github.com/formulahendry/acp-ui/pkg/websocket"
)

// Forwarder subscribes to the event bus and relays events to WebSocket
// clients: bridge events to that instance's subscribers, catalog changes to
// everyone.
type Forwarder struct {
	hub    *Hub
	bus    bus.EventBus
	logger *logger.Logger

	subs []bus.Subscription
}

// NewForwarder creates a forwarder; call Start to begin relaying.
func NewForwarder(hub *Hub, eventBus bus.EventBus, log *logger.Logger) *Forwarder {
	return &Forwarder{
		hub:    hub,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "ws_forwarder")),
	}
}

// Start installs the bus subscriptions.
func (f *Forwarder) Start() error {
	sub, err := f.bus.Subscribe(bus.SubjectAllBridges, f.forwardBridgeEvent)
	if err != nil {
		return err
	}
	f.subs = append(f.subs, sub)

	sub, err = f.bus.Subscribe(bus.SubjectRegistryChanged, f.forwardRegistryEvent)
	if err != nil {
		return err
	}
	f.subs = append(f.subs, sub)
	return nil
}

// Stop removes the bus subscriptions.
func (f *Forwarder) Stop() {
	for _, sub := range f.subs {
		if err := sub.Unsubscribe(); err != nil {
			f.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}
	f.subs = nil
}

func (f *Forwarder) forwardBridgeEvent(ctx context.Context, event *bus.Event) error {
	instanceID, _ := event.Data["instanceId"].(string)
	if instanceID == "" {
		f.logger.Warn("bridge event without instance id", zap.String("type", event.Type))
		return nil
	}

	msg, err := ws.NewNotification(ws.ActionBridgeEvent, event)
	if err != nil {
		return err
	}
	f.hub.BroadcastToInstance(instanceID, msg)
	return nil
}

func (f *Forwarder) forwardRegistryEvent(ctx context.Context, event *bus.Event) error {
	msg, err := ws.NewNotification(ws.ActionRegistryChanged, event)
	if err != nil {
		return err
	}
	f.hub.Broadcast(msg)
	return nil
}
