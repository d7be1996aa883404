package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vidsync/logger"
	"vidsync/services"
	"vidsync/types"
)

// PlaylistHandler handles playlist management and sync endpoints
type PlaylistHandler struct {
	engine services.Engine
	log    logger.Logger
}

// NewPlaylistHandler creates a new playlist handler
func NewPlaylistHandler(engine services.Engine, log logger.Logger) *PlaylistHandler {
	return &PlaylistHandler{engine: engine, log: log}
}

// AddPlaylistRequest is the body of POST /api/playlists
type AddPlaylistRequest struct {
	URL     string `json:"url" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

// UpdatePlaylistRequest is the body of PATCH /api/playlists/:id
type UpdatePlaylistRequest struct {
	Title   *string `json:"title"`
	Enabled *bool   `json:"enabled"`
}

// ListPlaylists returns every tracked playlist
func (h *PlaylistHandler) ListPlaylists(c *gin.Context) {
	playlists, err := h.engine.ListPlaylists(c.Request.Context())
	if err != nil {
		respondError(c, "failed to list playlists", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"playlists": playlists,
		"total":     len(playlists),
	})
}

// AddPlaylist resolves and starts tracking a playlist
func (h *PlaylistHandler) AddPlaylist(c *gin.Context) {
	var req AddPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	p, err := h.engine.AddPlaylist(c.Request.Context(), req.URL, enabled)
	if err != nil {
		respondError(c, "failed to add playlist", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Playlist added",
		"playlist": p,
	})
}

// UpdatePlaylist changes the title or enabled flag
func (h *PlaylistHandler) UpdatePlaylist(c *gin.Context) {
	var req UpdatePlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	p, err := h.engine.UpdatePlaylist(c.Request.Context(), c.Param("id"), types.PlaylistPatch{
		Title:   req.Title,
		Enabled: req.Enabled,
	})
	if err != nil {
		respondError(c, "failed to update playlist", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playlist": p})
}

// DeletePlaylist stops tracking a playlist. ?deleteFiles=true also removes its item folders.
func (h *PlaylistHandler) DeletePlaylist(c *gin.Context) {
	deleteFiles, _ := strconv.ParseBool(c.DefaultQuery("deleteFiles", "false"))
	if err := h.engine.DeletePlaylist(c.Request.Context(), c.Param("id"), deleteFiles); err != nil {
		respondError(c, "failed to delete playlist", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Playlist deleted"})
}

// ListPlaylistItems returns the item records of one playlist
func (h *PlaylistHandler) ListPlaylistItems(c *gin.Context) {
	h.listItems(c, c.Param("id"))
}

// ListItems returns every item record
func (h *PlaylistHandler) ListItems(c *gin.Context) {
	h.listItems(c, "")
}

func (h *PlaylistHandler) listItems(c *gin.Context, playlistID string) {
	items, err := h.engine.ListItems(c.Request.Context(), playlistID)
	if err != nil {
		respondError(c, "failed to list items", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

// SyncPlaylist reconciles one playlist and queues its missing items
func (h *PlaylistHandler) SyncPlaylist(c *gin.Context) {
	id := c.Param("id")
	n, err := h.engine.SyncPlaylist(c.Request.Context(), id)
	if err != nil {
		respondError(c, "sync failed", err)
		return
	}
	h.log.Info("Playlist synced on request", logger.String("playlist_id", id), logger.Int("enqueued", n))
	c.JSON(http.StatusOK, gin.H{
		"message":  "Playlist synced",
		"enqueued": n,
	})
}
