package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/config"
	"vidsync/logger"
)

func settingsRouter(t *testing.T) (http.Handler, *config.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadRoot = t.TempDir()
	mgr, err := config.NewManager(cfg, filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	h := NewSettingsHandler(mgr, logger.NewNop())
	r := testRouter()
	r.GET("/api/settings", h.GetSettings)
	r.PUT("/api/settings", h.UpdateSettings)
	return r, mgr
}

func TestGetSettings(t *testing.T) {
	r, mgr := settingsRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var s Settings
	decode(t, w, &s)
	assert.Equal(t, mgr.Get().DownloadRoot, s.DownloadRoot)
	assert.Equal(t, config.DefaultMaxConcurrent, s.MaxConcurrentDownloads)
	assert.Equal(t, config.DefaultSponsorBlockCategories, s.SponsorBlockCategories)
}

func TestUpdateSettingsAppliesAndNotifies(t *testing.T) {
	r, mgr := settingsRouter(t)
	var notified []int
	mgr.Subscribe(func(_, updated config.Configuration) {
		notified = append(notified, updated.MaxConcurrentDownloads)
	})
	root := filepath.Join(t.TempDir(), "media")

	interval, limit := 12, 4
	categories := []string{"sponsor"}
	w := doJSON(t, r, http.MethodPut, "/api/settings", SettingsUpdate{
		DownloadRoot:           &root,
		CheckIntervalHours:     &interval,
		MaxConcurrentDownloads: &limit,
		SponsorBlockCategories: &categories,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := mgr.Get()
	assert.Equal(t, root, got.DownloadRoot)
	assert.Equal(t, 12, got.CheckIntervalHours)
	assert.Equal(t, 4, got.MaxConcurrentDownloads)
	assert.Equal(t, []string{"sponsor"}, got.SponsorBlockCategories)
	assert.Equal(t, config.DefaultQuality, got.Quality)
	assert.Equal(t, []int{4}, notified)
	assert.DirExists(t, root)

	_, err := os.Stat(mgr.Path())
	assert.NoError(t, err)
}

func TestUpdateSettingsEmptyCategoriesDisablesMarking(t *testing.T) {
	r, mgr := settingsRouter(t)
	none := []string{}

	w := doJSON(t, r, http.MethodPut, "/api/settings", SettingsUpdate{SponsorBlockCategories: &none})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mgr.Get().SponsorBlockCategories)
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	r, mgr := settingsRouter(t)
	before := mgr.Get()

	zero := 0
	w := doJSON(t, r, http.MethodPut, "/api/settings", SettingsUpdate{MaxConcurrentDownloads: &zero})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	w = doJSON(t, r, http.MethodPut, "/api/settings", SettingsUpdate{DownloadRoot: &file})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/settings", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, before, mgr.Get())
}
