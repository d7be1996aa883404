package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/services"
	"vidsync/types"
)

func fileRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	for name, body := range map[string]string{
		"a1/Clip.mp4":   "0123456789",
		"a1/poster.jpg": "jpeg",
		"a1/notes.txt":  "text",
	} {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.DownloadRoot = root
	h := NewFileHandler(services.NewLibraryService(logger.NewNop()), config.Static(cfg), logger.NewNop())
	r := testRouter()
	r.GET("/api/files", h.ListFiles)
	r.GET("/api/files/stream/*filepath", h.StreamFile)
	return r, root
}

func get(r http.Handler, path, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListFiles(t *testing.T) {
	r, _ := fileRouter(t)
	w := get(r, "/api/files", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []types.MediaFile `json:"files"`
		Count int               `json:"count"`
	}
	decode(t, w, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "a1/Clip.mp4", resp.Files[0].Path)
	assert.Equal(t, "a1", resp.Files[0].ItemID)
}

func TestStreamFile(t *testing.T) {
	r, _ := fileRouter(t)

	w := get(r, "/api/files/stream/a1/Clip.mp4", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))

	w = get(r, "/api/files/stream/a1/Clip.mp4", "bytes=2-5")
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))

	w = get(r, "/api/files/stream/a1/Clip.mp4", "bytes=20-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)

	w = get(r, "/api/files/stream/a1/poster.jpg", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

func TestStreamFileRejections(t *testing.T) {
	r, _ := fileRouter(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"disallowed extension", "/api/files/stream/a1/notes.txt", http.StatusForbidden},
		{"traversal", "/api/files/stream/a1/../../etc/passwd.mp4", http.StatusForbidden},
		{"missing", "/api/files/stream/zz/Clip.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, get(r, tt.path, "").Code)
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header     string
		start, end int64
		ok         bool
	}{
		{"bytes=0-99", 0, 99, true},
		{"bytes=100-", 100, 999, true},
		{"bytes=900-5000", 900, 999, true},
		{"bytes=-100", 900, 999, true},
		{"bytes=-5000", 0, 999, true},
		{"bytes=1000-", 0, 0, false},
		{"bytes=50-10", 0, 0, false},
		{"bytes=0-1,5-6", 0, 0, false},
		{"items=0-1", 0, 0, false},
		{"bytes=abc-", 0, 0, false},
		{"bytes=-0", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, ok := parseRange(tt.header, 1000)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.start, start)
				assert.Equal(t, tt.end, end)
			}
		})
	}
}

func TestResolveUnder(t *testing.T) {
	root := t.TempDir()
	full, err := resolveUnder(root, "a1/Clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a1", "Clip.mp4"), full)

	_, err = resolveUnder(root, "../outside.mp4")
	assert.Error(t, err)

	// A sibling directory sharing the root's prefix is still outside.
	_, err = resolveUnder(root, "../"+filepath.Base(root)+"-other/x.mp4")
	assert.Error(t, err)
}
