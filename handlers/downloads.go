package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"

	"vidsync/logger"
	"vidsync/services"
	"vidsync/websocket"
)

// DefaultStreamInterval is the cadence of the SSE status stream.
const DefaultStreamInterval = time.Second

// DownloadHandler exposes the queue status and live progress
type DownloadHandler struct {
	engine         services.Engine
	hub            websocket.Hub
	upgrader       gws.Upgrader
	streamInterval time.Duration
	log            logger.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(engine services.Engine, hub websocket.Hub, allowedOrigins []string, log logger.Logger) *DownloadHandler {
	return &DownloadHandler{
		engine:         engine,
		hub:            hub,
		upgrader:       websocket.NewUpgrader(allowedOrigins),
		streamInterval: DefaultStreamInterval,
		log:            log,
	}
}

// GetStatus returns the running jobs and the pending queue length
func (h *DownloadHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

// StreamStatus pushes the queue status as server-sent events until the client goes away
func (h *DownloadHandler) StreamStatus(c *gin.Context) {
	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("status", h.engine.Status())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
			c.SSEvent("status", h.engine.Status())
			return true
		}
	})
}

// HandleWebSocketConnection streams progress for one item
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	itemID := c.Param("itemId")
	if err := services.ValidateItemID(itemID); err != nil {
		respondError(c, "invalid item id", err)
		return
	}
	h.serveWebSocket(c, itemID)
}

// HandleWebSocketAllConnection streams progress for every item
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	h.serveWebSocket(c, websocket.AllItems)
}

func (h *DownloadHandler) serveWebSocket(c *gin.Context, itemID string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, itemID, h.log)
	h.hub.RegisterClient(client)
	client.StartPumps()
}
