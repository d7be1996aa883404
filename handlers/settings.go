package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"vidsync/config"
	"vidsync/logger"
)

// SettingsStore reads and atomically updates the live configuration
type SettingsStore interface {
	Get() config.Configuration
	Update(fn func(*config.Configuration)) (config.Configuration, error)
}

// SettingsHandler handles settings-related endpoints
type SettingsHandler struct {
	settings SettingsStore
	log      logger.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings SettingsStore, log logger.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, log: log}
}

// Settings is the user-editable part of the configuration
type Settings struct {
	DownloadRoot           string   `json:"downloadRoot"`
	CheckIntervalHours     int      `json:"checkIntervalHours"`
	Quality                string   `json:"quality"`
	MaxConcurrentDownloads int      `json:"maxConcurrentDownloads"`
	SponsorBlockCategories []string `json:"sponsorBlockCategories"`
}

// SettingsUpdate carries the fields to change. Nil fields are left alone.
type SettingsUpdate struct {
	DownloadRoot           *string   `json:"downloadRoot"`
	CheckIntervalHours     *int      `json:"checkIntervalHours"`
	Quality                *string   `json:"quality"`
	MaxConcurrentDownloads *int      `json:"maxConcurrentDownloads"`
	SponsorBlockCategories *[]string `json:"sponsorBlockCategories"`
}

func settingsFrom(cfg config.Configuration) Settings {
	categories := cfg.SponsorBlockCategories
	if categories == nil {
		categories = []string{}
	}
	return Settings{
		DownloadRoot:           cfg.DownloadRoot,
		CheckIntervalHours:     cfg.CheckIntervalHours,
		Quality:                cfg.Quality,
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		SponsorBlockCategories: categories,
	}
}

func (u SettingsUpdate) apply(cfg *config.Configuration) {
	if u.DownloadRoot != nil {
		cfg.DownloadRoot = *u.DownloadRoot
	}
	if u.CheckIntervalHours != nil {
		cfg.CheckIntervalHours = *u.CheckIntervalHours
	}
	if u.Quality != nil {
		cfg.Quality = *u.Quality
	}
	if u.MaxConcurrentDownloads != nil {
		cfg.MaxConcurrentDownloads = *u.MaxConcurrentDownloads
	}
	if u.SponsorBlockCategories != nil {
		cfg.SponsorBlockCategories = append([]string{}, (*u.SponsorBlockCategories)...)
	}
}

// validatePath checks that path is a writable directory, creating it if needed
func validatePath(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", path)
	}

	testFile := filepath.Join(path, ".vidsync-write-test")
	file, err := os.Create(testFile)
	if err != nil {
		return err
	}
	file.Close()
	return os.Remove(testFile)
}

// GetSettings returns the current settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsFrom(h.settings.Get()))
}

// UpdateSettings validates, persists and applies a settings change
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var update SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings format",
			"details": err.Error(),
		})
		return
	}

	if update.DownloadRoot != nil {
		if err := validatePath(*update.DownloadRoot); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid download root",
				"details": err.Error(),
			})
			return
		}
	}

	updated, err := h.settings.Update(update.apply)
	if err != nil {
		respondError(c, "Failed to update settings", err)
		return
	}

	h.log.Info("Settings updated",
		logger.Int("check_interval_hours", updated.CheckIntervalHours),
		logger.Int("max_concurrent_downloads", updated.MaxConcurrentDownloads),
		logger.Strings("sponsorblock_categories", updated.SponsorBlockCategories))
	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings updated successfully",
		"settings": settingsFrom(updated),
	})
}
