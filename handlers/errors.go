package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vidsync/config"
	"vidsync/services"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var resErr *services.SourceResolutionError
	switch {
	case errors.Is(err, services.ErrPlaylistNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicatePlaylist):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidItemID), errors.Is(err, config.ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &resErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, message string, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
