// Package websocket is the WebSocket gateway the UI connects to. It serves
// request/response actions through a dispatcher and pushes bridge and
// catalog events to subscribed clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	ws "github.com/formulahendry/acp-ui/pkg/websocket"
)

// Hub manages the connected WebSocket clients and routes pushed events to
// them. Bridge events go only to clients subscribed to that instance;
// catalog changes go to everyone.
type Hub struct {
	clients map[*Client]bool

	// instanceSubscribers routes bridge events by agent instance id.
	instanceSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message

	dispatcher *ws.Dispatcher

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub over the given dispatcher.
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:             make(map[*Client]bool),
		instanceSubscribers: make(map[string]map[*Client]bool),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan *ws.Message, 256),
		dispatcher:          dispatcher,
		logger:              log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run drives registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.instanceSubscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for instanceID := range client.subscriptions {
			if clients, ok := h.instanceSubscribers[instanceID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.instanceSubscribers, instanceID)
				}
			}
		}
	}
	h.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Buffer full; the write pump will clean the client up.
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast pushes a notification to every connected client.
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToInstance pushes a notification to clients subscribed to the
// given agent instance.
func (h *Hub) BroadcastToInstance(instanceID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.instanceSubscribers[instanceID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Subscribe routes the instance's bridge events to the client.
func (h *Hub) Subscribe(client *Client, instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.instanceSubscribers[instanceID]; !ok {
		h.instanceSubscribers[instanceID] = make(map[*Client]bool)
	}
	h.instanceSubscribers[instanceID][client] = true
	client.subscriptions[instanceID] = true

	h.logger.Debug("client subscribed",
		zap.String("client_id", client.ID),
		zap.String("instance_id", instanceID))
}

// Unsubscribe stops routing the instance's events to the client.
func (h *Hub) Unsubscribe(client *Client, instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, instanceID)
	if clients, ok := h.instanceSubscribers[instanceID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.instanceSubscribers, instanceID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
