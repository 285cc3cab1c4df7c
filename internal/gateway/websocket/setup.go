package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	ws "github.com/formulahendry/acp-ui/pkg/websocket"
)

// Gateway bundles the WebSocket components: dispatcher, hub, connection
// handler, and the bus forwarder.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	Forwarder  *Forwarder
}

// NewGateway wires the components together. The caller registers action
// handlers on Dispatcher, runs Hub.Run, and starts Forwarder.
func NewGateway(eventBus bus.EventBus, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, log),
		Forwarder:  NewForwarder(hub, eventBus, log),
	}
}

// SetupRoutes adds the WebSocket endpoint to the router.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
}
