package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vidsync/services"
)

// SyncHandler triggers bulk synchronization and the sponsor-segment sweep
type SyncHandler struct {
	engine services.Engine
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine services.Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// SyncAll reconciles every enabled playlist
func (h *SyncHandler) SyncAll(c *gin.Context) {
	summary, err := h.engine.SyncAll(c.Request.Context())
	if err != nil {
		respondError(c, "sync failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Sweep re-probes completed items lacking skip-segment data
func (h *SyncHandler) Sweep(c *gin.Context) {
	result, err := h.engine.RunSponsorSweep(c.Request.Context())
	if err != nil {
		respondError(c, "sponsor segment sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
