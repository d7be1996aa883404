// Package config holds the process-wide Configuration and the Manager that loads,
// validates, persists and hot-reloads it.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"vidsync/logger"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Default values
const (
	DefaultDownloadRoot       = "downloads"
	DefaultCheckIntervalHours = 6
	DefaultPort               = 8080
	DefaultQuality            = "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	DefaultMaxConcurrent      = 2
	DefaultDownloaderPath     = "yt-dlp"
	DefaultListTimeout        = 2 * time.Minute
	DefaultSponsorBlockAPI    = "https://sponsor.ajay.app/api/skipSegments"
	DefaultSponsorTimeout     = 10 * time.Second
	DefaultSponsorRate        = 5.0
	DefaultStoreDriver        = "json"
)

// Store drivers
const (
	StoreDriverJSON   = "json"
	StoreDriverSQLite = "sqlite"
)

// DefaultSponsorBlockCategories are the skip-segment categories marked when none are configured.
var DefaultSponsorBlockCategories = []string{"sponsor", "selfpromo", "interaction"}

// Configuration is the single process-wide settings value.
type Configuration struct {
	DownloadRoot           string   `yaml:"download_root" json:"downloadRoot" env:"VIDSYNC_DOWNLOAD_ROOT"`
	CheckIntervalHours     int      `yaml:"check_interval_hours" json:"checkIntervalHours" env:"VIDSYNC_CHECK_INTERVAL_HOURS"`
	Port                   int      `yaml:"port" json:"port" env:"VIDSYNC_PORT"`
	Quality                string   `yaml:"quality" json:"quality" env:"VIDSYNC_QUALITY"`
	MaxConcurrentDownloads int      `yaml:"max_concurrent_downloads" json:"maxConcurrentDownloads" env:"VIDSYNC_MAX_CONCURRENT"`
	SponsorBlockCategories []string `yaml:"sponsorblock_categories" json:"sponsorBlockCategories" env:"VIDSYNC_SPONSORBLOCK_CATEGORIES"`

	Downloader   DownloaderConfig   `yaml:"downloader" json:"downloader"`
	SponsorBlock SponsorBlockConfig `yaml:"sponsorblock" json:"sponsorBlock"`
	Store        StoreConfig        `yaml:"store" json:"store"`
	Logging      logger.Config      `yaml:"logging" json:"logging"`
	Server       ServerConfig       `yaml:"server" json:"server"`
}

// DownloaderConfig configures the external downloader executable.
type DownloaderConfig struct {
	Path        string        `yaml:"path" json:"path" env:"VIDSYNC_DOWNLOADER_PATH"`
	ListTimeout time.Duration `yaml:"list_timeout" json:"listTimeout" env:"VIDSYNC_LIST_TIMEOUT"`
}

// SponsorBlockConfig configures the skip-segment metadata probe.
type SponsorBlockConfig struct {
	APIURL            string        `yaml:"api_url" json:"apiURL" env:"VIDSYNC_SPONSORBLOCK_API"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requestsPerSecond"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver" env:"VIDSYNC_STORE_DRIVER"`
	// Path defaults to <download_root>/vidsync.json (or .db for sqlite).
	Path string `yaml:"path" json:"path" env:"VIDSYNC_STORE_PATH"`
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	CORSOrigins []string `yaml:"cors_origins" json:"corsOrigins" env:"CORS_ORIGINS"`
}

// Default returns a Configuration populated with defaults.
func Default() Configuration {
	cfg := Configuration{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero field with its default.
func (c *Configuration) SetDefaults() {
	if c.DownloadRoot == "" {
		c.DownloadRoot = DefaultDownloadRoot
	}
	if c.CheckIntervalHours == 0 {
		c.CheckIntervalHours = DefaultCheckIntervalHours
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Quality == "" {
		c.Quality = DefaultQuality
	}
	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = DefaultMaxConcurrent
	}
	if c.SponsorBlockCategories == nil {
		c.SponsorBlockCategories = slices.Clone(DefaultSponsorBlockCategories)
	}
	if c.Downloader.Path == "" {
		c.Downloader.Path = DefaultDownloaderPath
	}
	if c.Downloader.ListTimeout == 0 {
		c.Downloader.ListTimeout = DefaultListTimeout
	}
	if c.SponsorBlock.APIURL == "" {
		c.SponsorBlock.APIURL = DefaultSponsorBlockAPI
	}
	if c.SponsorBlock.Timeout == 0 {
		c.SponsorBlock.Timeout = DefaultSponsorTimeout
	}
	if c.SponsorBlock.RequestsPerSecond == 0 {
		c.SponsorBlock.RequestsPerSecond = DefaultSponsorRate
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Path == "" {
		name := "vidsync.json"
		if c.Store.Driver == StoreDriverSQLite {
			name = "vidsync.db"
		}
		c.Store.Path = filepath.Join(c.DownloadRoot, name)
	}
}

// Validate checks invariants the core relies on.
func (c Configuration) Validate() error {
	switch {
	case c.DownloadRoot == "":
		return fmt.Errorf("%w: download root is required", ErrInvalid)
	case c.CheckIntervalHours < 1:
		return fmt.Errorf("%w: check interval must be at least 1 hour, got %d", ErrInvalid, c.CheckIntervalHours)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port out of range: %d", ErrInvalid, c.Port)
	case c.Quality == "":
		return fmt.Errorf("%w: quality selector is required", ErrInvalid)
	case c.MaxConcurrentDownloads < 1:
		return fmt.Errorf("%w: max concurrent downloads must be at least 1, got %d", ErrInvalid, c.MaxConcurrentDownloads)
	case c.Store.Driver != StoreDriverJSON && c.Store.Driver != StoreDriverSQLite:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
	return nil
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	out := c
	out.SponsorBlockCategories = slices.Clone(c.SponsorBlockCategories)
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Logging.OutputPaths = slices.Clone(c.Logging.OutputPaths)
	return out
}

// CheckInterval returns the periodic trigger cadence.
func (c Configuration) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalHours) * time.Hour
}

// Provider gives synchronous snapshot access to the current configuration.
type Provider interface {
	Get() Configuration
}

// Static is a fixed Provider.
type Static Configuration

// Get returns a copy of the wrapped configuration.
func (s Static) Get() Configuration {
	return Configuration(s).Clone()
}
