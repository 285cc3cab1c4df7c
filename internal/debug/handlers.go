// Package debug exposes the protocol traffic inspector over HTTP.
package debug

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/formulahendry/acp-ui/internal/bridge/traffic"
)

// Handlers serves the traffic inspector endpoints.
type Handlers struct {
	recorder *traffic.Recorder
}

// NewHandlers creates the inspector over the given recorder.
func NewHandlers(recorder *traffic.Recorder) *Handlers {
	return &Handlers{recorder: recorder}
}

// SetupRoutes registers the debug endpoints on the router.
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	group := router.Group("/debug/traffic")
	group.GET("", h.listTraffic)
	group.POST("/pause", h.pause)
	group.POST("/resume", h.resume)
	group.POST("/clear", h.clear)
}

// listTraffic returns recorded frames, oldest first. Query parameters: type
// filters by frame classification, search by method or payload substring.
func (h *Handlers) listTraffic(c *gin.Context) {
	entries := h.recorder.Entries(traffic.Filter{
		Type:   c.Query("type"),
		Search: c.Query("search"),
	})
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
		"paused":  h.recorder.Paused(),
	})
}

func (h *Handlers) pause(c *gin.Context) {
	h.recorder.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *Handlers) resume(c *gin.Context) {
	h.recorder.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (h *Handlers) clear(c *gin.Context) {
	h.recorder.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
