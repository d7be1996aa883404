package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vidsync/services"
)

// ResolveHandler previews a remote source without tracking it
type ResolveHandler struct {
	engine services.Engine
}

// NewResolveHandler creates a new resolve handler
func NewResolveHandler(engine services.Engine) *ResolveHandler {
	return &ResolveHandler{engine: engine}
}

// ResolveRequest is the body of POST /api/resolve
type ResolveRequest struct {
	URL string `json:"url"`
}

// Resolve lists the items behind a playlist or single-item URL
func (h *ResolveHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "body must contain a non-empty 'url'",
		})
		return
	}

	listing, err := h.engine.ResolveSource(c.Request.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		respondError(c, "resolve failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":     req.URL,
		"listing": listing,
		"count":   len(listing.Items),
	})
}
