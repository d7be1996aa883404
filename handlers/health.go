package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vidsync/config"
	"vidsync/services"
)

// NextRunner reports when the next scheduled cycle fires
type NextRunner interface {
	NextRun() time.Time
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	version   string
	cfg       config.Provider
	engine    services.Engine
	scheduler NextRunner
}

// NewHealthHandler creates a new health handler. scheduler may be nil.
func NewHealthHandler(version string, cfg config.Provider, engine services.Engine, scheduler NextRunner) *HealthHandler {
	return &HealthHandler{version: version, cfg: cfg, engine: engine, scheduler: scheduler}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "vidsync",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the download root, queue state and next scheduled cycle
func (h *HealthHandler) APIStatus(c *gin.Context) {
	cfg := h.cfg.Get()
	resp := gin.H{
		"message":                 "vidsync API is running",
		"download_root":           cfg.DownloadRoot,
		"check_interval_hours":    cfg.CheckIntervalHours,
		"max_concurrent":          cfg.MaxConcurrentDownloads,
		"sponsorblock_categories": cfg.SponsorBlockCategories,
		"queue":                   h.engine.Status(),
	}
	if h.scheduler != nil {
		if next := h.scheduler.NextRun(); !next.IsZero() {
			resp["next_cycle"] = next.UTC()
		}
	}
	c.JSON(http.StatusOK, resp)
}
