package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidsync/logger"
)

func TestScanMedia(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a1/Clip.mp4":        "video",
		"a1/Clip.f137.mp4":   "partial",
		"a1/poster.jpg":      "jpeg",
		"b2/Talk.m4a":        "audio",
		"c3/nested/Deep.mkv": "video",
		"vidsync.json":       "{}",
	}
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	media, err := NewLibraryService(logger.NewNop()).ScanMedia(root)
	require.NoError(t, err)
	require.Len(t, media, 3)

	assert.Equal(t, "a1/Clip.mp4", media[0].Path)
	assert.Equal(t, "a1", media[0].ItemID)
	assert.Equal(t, "mp4", media[0].Format)
	assert.Equal(t, int64(5), media[0].Size)
	require.NotNil(t, media[0].Metadata)
	assert.Equal(t, "Clip", media[0].Metadata.Title)

	assert.Equal(t, "b2", media[1].ItemID)
	assert.Equal(t, "m4a", media[1].Format)
	assert.Equal(t, "c3", media[2].ItemID)
	assert.Equal(t, "c3/nested/Deep.mkv", media[2].Path)
}

func TestScanMediaMissingRoot(t *testing.T) {
	media, err := NewLibraryService(logger.NewNop()).ScanMedia(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, media)
}

func TestGetContentType(t *testing.T) {
	ls := NewLibraryService(logger.NewNop())
	tests := map[string]string{
		"a/Clip.mp4":  "video/mp4",
		"a/Clip.MP4":  "video/mp4",
		"a/Talk.m4a":  "audio/mp4",
		"a/Clip.webm": "video/webm",
		"a/Clip.mkv":  "video/x-matroska",
		"a/cover.jpg": "image/jpeg",
		"notes.txt":   "application/octet-stream",
		"noext":       "application/octet-stream",
	}
	for path, want := range tests {
		assert.Equal(t, want, ls.GetContentType(path), path)
	}
}

func TestValidateFilePath(t *testing.T) {
	ls := NewLibraryService(logger.NewNop())
	assert.NoError(t, ls.ValidateFilePath("a1/Clip.mp4"))
	assert.Error(t, ls.ValidateFilePath(""))
	assert.Error(t, ls.ValidateFilePath("../etc/passwd"))
	assert.Error(t, ls.ValidateFilePath("a1/../../x"))
	assert.Error(t, ls.ValidateFilePath("/etc/passwd"))
}

func TestExtractMetadataFallsBackToFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "My Video.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really an mp4"), 0o644))

	meta := NewLibraryService(logger.NewNop()).ExtractMetadata(path)
	require.NotNil(t, meta)
	assert.Equal(t, "My Video", meta.Title)
	assert.Empty(t, meta.Artist)
}
