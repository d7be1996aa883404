package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/types"
)

// commandFunc builds an external command. Tests replace it to run a fake downloader.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// SourceLister resolves a playlist (or single item) reference into its members.
type SourceLister interface {
	Resolve(ctx context.Context, source string) (*types.Listing, error)
}

type ytdlpLister struct {
	cfg     config.Provider
	command commandFunc
	log     logger.Logger
}

// NewLister creates a lister that runs the downloader in flat metadata mode.
func NewLister(cfg config.Provider, log logger.Logger) SourceLister {
	return &ytdlpLister{cfg: cfg, command: exec.CommandContext, log: log}
}

// listingDocument is the subset of the downloader's JSON output we read.
type listingDocument struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	WebpageURL string          `json:"webpage_url"`
	Entries    []*listingEntry `json:"entries"`
}

type listingEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	WebpageURL string `json:"webpage_url"`
}

// WatchURL is the canonical single-item URL for an id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func (l *ytdlpLister) Resolve(ctx context.Context, source string) (*types.Listing, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &SourceResolutionError{Source: source, Err: errors.New("empty source reference")}
	}
	cfg := l.cfg.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.Downloader.ListTimeout)
	defer cancel()

	cmd := l.command(ctx, cfg.Downloader.Path,
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings",
		source,
	)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.log.Debug("Resolving source", logger.String("source", source))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("listing timed out: %w", ctxErr)
		}
		return nil, &SourceResolutionError{Source: source, Stderr: tail(stderr.String(), 2048), Err: err}
	}

	listing, err := parseListing(stdout.Bytes())
	if err != nil {
		return nil, &SourceResolutionError{Source: source, Stderr: tail(stderr.String(), 2048), Err: err}
	}
	return listing, nil
}

func parseListing(data []byte) (*types.Listing, error) {
	var doc listingDocument
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return nil, fmt.Errorf("parse listing output: %w", err)
	}
	if doc.ID == "" && doc.Entries == nil {
		return nil, errors.New("listing output has no id")
	}

	listing := &types.Listing{ID: doc.ID, Title: doc.Title, Items: []types.ListingItem{}}

	// A document without entries is a single item.
	if doc.Entries == nil {
		url := doc.WebpageURL
		if url == "" {
			url = WatchURL(doc.ID)
		}
		listing.Items = append(listing.Items, types.ListingItem{ID: doc.ID, Title: doc.Title, URL: url})
		return listing, nil
	}

	for _, e := range doc.Entries {
		if e == nil || e.ID == "" {
			continue
		}
		url := e.URL
		if !strings.HasPrefix(url, "http") {
			url = e.WebpageURL
		}
		if url == "" {
			url = WatchURL(e.ID)
		}
		listing.Items = append(listing.Items, types.ListingItem{ID: e.ID, Title: e.Title, URL: url})
	}
	return listing, nil
}

// tail returns at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
