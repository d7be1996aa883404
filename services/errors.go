package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPlaylistNotFound is returned for operations on an unknown playlist id.
	ErrPlaylistNotFound = errors.New("playlist not found")
	// ErrInvalidItemID is returned for item ids that cannot be used as folder names.
	ErrInvalidItemID = errors.New("invalid item id")
	// ErrNoArtifact marks a downloader run that exited cleanly without leaving a media file.
	ErrNoArtifact = errors.New("no media file produced")
)

// SourceResolutionError reports a failed listing of a remote source.
type SourceResolutionError struct {
	Source string
	Stderr string
	Err    error
}

func (e *SourceResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s: %v", e.Source, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *SourceResolutionError) Unwrap() error { return e.Err }

// DownloadError reports a failed downloader run for one item.
type DownloadError struct {
	ItemID   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *DownloadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "download %s", e.ItemID)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ValidateItemID rejects ids that would escape the download root when used as a folder name.
func ValidateItemID(id string) error {
	if id == "" || id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidItemID, id)
	}
	return nil
}
