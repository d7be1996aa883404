package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/services"
)

// streamableExtensions are the artifact types served by StreamFile.
var streamableExtensions = map[string]bool{
	".mp4":  true,
	".m4a":  true,
	".webm": true,
	".mkv":  true,
	".jpg":  true,
}

// FileHandler lists and streams downloaded artifacts
type FileHandler struct {
	library services.LibraryService
	cfg     config.Provider
	log     logger.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(library services.LibraryService, cfg config.Provider, log logger.Logger) *FileHandler {
	return &FileHandler{library: library, cfg: cfg, log: log}
}

// ListFiles returns every media file under the download root
func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.library.ScanMedia(h.cfg.Get().DownloadRoot)
	if err != nil {
		h.log.Error("Error scanning media files", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to scan files",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"count": len(files),
	})
}

// StreamFile serves one artifact, honouring a single byte range
func (h *FileHandler) StreamFile(c *gin.Context) {
	requestedPath := strings.TrimPrefix(c.Param("filepath"), "/")

	if err := h.library.ValidateFilePath(requestedPath); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "path security violation",
			"details": err.Error(),
		})
		return
	}

	if !streamableExtensions[strings.ToLower(filepath.Ext(requestedPath))] {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "file extension not allowed",
			"details": "only .mp4, .m4a, .webm, .mkv and .jpg files can be streamed",
		})
		return
	}

	fullPath, err := resolveUnder(h.cfg.Get().DownloadRoot, requestedPath)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "path traversal not allowed",
			"details": err.Error(),
		})
		return
	}

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "file not found",
				"path":  requestedPath,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "file access error",
			"details": err.Error(),
		})
		return
	}
	if fileInfo.IsDir() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "path is a directory, not a file",
		})
		return
	}

	file, err := os.Open(fullPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to open file",
			"details": err.Error(),
		})
		return
	}
	defer file.Close()

	size := fileInfo.Size()
	c.Header("Content-Type", h.library.GetContentType(requestedPath))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Cache-Control", "public, max-age=3600")

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, file); err != nil {
			h.log.Debug("Error streaming file", logger.String("path", requestedPath), logger.Error(err))
		}
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to seek file",
		})
		return
	}

	length := end - start + 1
	c.Header("Content-Length", strconv.FormatInt(length, 10))
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Status(http.StatusPartialContent)
	if _, err := io.CopyN(c.Writer, file, length); err != nil {
		h.log.Debug("Error streaming range",
			logger.String("path", requestedPath),
			logger.Int("start", int(start)),
			logger.Int("end", int(end)),
			logger.Error(err))
	}
}

// resolveUnder joins rel onto root and checks the result stays inside root.
func resolveUnder(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full, err := filepath.Abs(filepath.Join(absRoot, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	inside, err := filepath.Rel(absRoot, full)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s escapes the download root", rel)
	}
	return full, nil
}

// parseRange parses "bytes=start-end", "bytes=start-" and "bytes=-suffix" against size.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	ranges, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(ranges, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(ranges, "-")
	if !found || size == 0 {
		return 0, 0, false
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}
