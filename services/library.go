package services

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"

	"vidsync/logger"
	"vidsync/types"
)

// LibraryService lists and describes downloaded artifacts under the download root
type LibraryService interface {
	ScanMedia(root string) ([]types.MediaFile, error)
	ExtractMetadata(filePath string) *types.MediaMetadata
	ValidateFilePath(path string) error
	GetContentType(filePath string) string
}

type libraryService struct {
	log logger.Logger
}

// NewLibraryService creates a new library service
func NewLibraryService(log logger.Logger) LibraryService {
	return &libraryService{log: log}
}

// ScanMedia walks root for finished media files. Each item lives in a folder named after its id.
func (ls *libraryService) ScanMedia(root string) ([]types.MediaFile, error) {
	files := []types.MediaFile{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			ls.log.Warn("Error accessing path", logger.String("path", path), logger.Error(err))
			return nil
		}
		if info.IsDir() || !isMediaFile(path) || isIntermediateStream(path) {
			return nil
		}

		relativePath, err := filepath.Rel(root, path)
		if err != nil {
			relativePath = path
		}
		relativePath = filepath.ToSlash(relativePath)

		itemID := ""
		if dir := filepath.Dir(relativePath); dir != "." {
			itemID = strings.Split(dir, "/")[0]
		}

		files = append(files, types.MediaFile{
			ItemID:   itemID,
			Filename: info.Name(),
			Path:     relativePath,
			Size:     info.Size(),
			Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			Metadata: ls.ExtractMetadata(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// GetContentType returns the MIME type for a media file
func (ls *libraryService) GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// ExtractMetadata reads embedded tags, falling back to the file name
func (ls *libraryService) ExtractMetadata(filePath string) *types.MediaMetadata {
	file, err := os.Open(filePath)
	if err != nil {
		ls.log.Debug("Could not open media file", logger.String("path", filePath), logger.Error(err))
		return metadataFromPath(filePath)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		ls.log.Debug("Could not parse media metadata", logger.String("path", filePath), logger.Error(err))
		return metadataFromPath(filePath)
	}

	metadata := &types.MediaMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Year:   meta.Year(),
	}
	if metadata.Title == "" {
		metadata.Title = metadataFromPath(filePath).Title
	}
	return metadata
}

func metadataFromPath(filePath string) *types.MediaMetadata {
	name := filepath.Base(filePath)
	return &types.MediaMetadata{Title: strings.TrimSuffix(name, filepath.Ext(name))}
}

// ValidateFilePath rejects traversal, absolute and empty paths
func (ls *libraryService) ValidateFilePath(path string) error {
	switch {
	case strings.TrimSpace(path) == "":
		return errors.New("empty path not allowed")
	case strings.Contains(path, ".."):
		return errors.New("path traversal not allowed")
	case strings.HasPrefix(path, "/") || filepath.IsAbs(path):
		return errors.New("absolute paths not allowed")
	}
	return nil
}
