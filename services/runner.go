package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/store"
	"vidsync/types"
)

const (
	thumbnailName = "cover"
	posterName    = "poster.jpg"
	stderrTail    = 4096
	waitDelay     = 5 * time.Second
)

// artifactExtensions are probed, in order, when the downloader did not announce a usable path.
var artifactExtensions = []string{".mp4", ".mkv", ".webm", ".m4a"}

// ProgressFunc receives percent-complete updates (0-100) for a running job.
type ProgressFunc func(percent float64)

// Runner executes one download job and records its terminal outcome.
// A nil error means a completed record has been persisted.
type Runner interface {
	Run(ctx context.Context, entry types.PendingEntry, progress ProgressFunc) error
}

type downloadRunner struct {
	cfg     config.Provider
	store   store.Store
	probe   SegmentProbe
	command commandFunc
	log     logger.Logger
}

// NewRunner creates a runner that drives the external downloader per item.
func NewRunner(cfg config.Provider, st store.Store, probe SegmentProbe, log logger.Logger) Runner {
	return &downloadRunner{cfg: cfg, store: st, probe: probe, command: exec.CommandContext, log: log}
}

// ItemFolder is the storage folder of one item.
func ItemFolder(root, itemID string) string {
	return filepath.Join(root, itemID)
}

// RecordFolder is the folder holding rec's artifact. Records written before a
// download root change keep pointing at their original folder.
func RecordFolder(root string, rec types.ItemRecord) string {
	if rec.FilePath != "" {
		if dir := filepath.Dir(rec.FilePath); filepath.Base(dir) == rec.ID {
			return dir
		}
	}
	return ItemFolder(root, rec.ID)
}

// downloadArgs is the fixed argument contract for a per-item download.
func downloadArgs(cfg config.Configuration, folder, url string) []string {
	args := []string{
		"-f", cfg.Quality,
		"-o", filepath.Join(folder, "%(title)s.%(ext)s"),
		"--remux-video", "mp4",
		"--embed-metadata",
		"--embed-chapters",
		"--embed-thumbnail",
	}
	if len(cfg.SponsorBlockCategories) > 0 {
		args = append(args, "--sponsorblock-mark", strings.Join(cfg.SponsorBlockCategories, ","))
	}
	args = append(args,
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"-o", "thumbnail:"+filepath.Join(folder, thumbnailName+".%(ext)s"),
		"--no-playlist",
		"--newline",
		url,
	)
	return args
}

func (r *downloadRunner) Run(ctx context.Context, entry types.PendingEntry, progress ProgressFunc) error {
	if err := ValidateItemID(entry.ItemID); err != nil {
		return err
	}
	cfg := r.cfg.Get()
	log := r.log.With(logger.String("item_id", entry.ItemID), logger.String("playlist_id", entry.PlaylistID))

	url := entry.URL
	if url == "" {
		url = WatchURL(entry.ItemID)
	}
	folder := ItemFolder(cfg.DownloadRoot, entry.ItemID)

	artifact, runErr := r.download(ctx, cfg, folder, entry.ItemID, url, progress)
	if runErr != nil {
		// An interrupted job is not a download failure; the next cycle picks it up again.
		if ctx.Err() != nil {
			log.Info("Download interrupted", logger.Error(runErr))
			return runErr
		}
		log.Warn("Download failed", logger.Error(runErr))
		rec := types.ItemRecord{
			ID:          entry.ItemID,
			PlaylistID:  entry.PlaylistID,
			Title:       entry.Title,
			SourceURL:   url,
			CompletedAt: time.Now().UTC(),
			Status:      types.ItemStatusFailed,
			Error:       runErr.Error(),
		}
		if err := r.store.AddOrReplaceItem(ctx, rec); err != nil {
			log.Error("Failed to persist failed record", logger.Error(err))
			return errors.Join(runErr, fmt.Errorf("persist record: %w", err))
		}
		return runErr
	}

	copyPoster(folder, log)

	rec := types.ItemRecord{
		ID:          entry.ItemID,
		PlaylistID:  entry.PlaylistID,
		Title:       entry.Title,
		SourceURL:   url,
		CompletedAt: time.Now().UTC(),
		Status:      types.ItemStatusCompleted,
		FilePath:    artifact,
	}
	if len(cfg.SponsorBlockCategories) > 0 {
		found := r.probe.HasSegments(ctx, entry.ItemID, cfg.SponsorBlockCategories)
		rec.HasSponsorBlock = &found
	}
	if err := r.store.AddOrReplaceItem(ctx, rec); err != nil {
		log.Error("Failed to persist completed record", logger.Error(err))
		return fmt.Errorf("persist record for %s: %w", entry.ItemID, err)
	}
	log.Info("Download completed", logger.String("path", artifact))
	return nil
}

// download runs the downloader and returns the artifact path.
func (r *downloadRunner) download(ctx context.Context, cfg config.Configuration, folder, itemID, url string, progress ProgressFunc) (string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", &DownloadError{ItemID: itemID, Err: fmt.Errorf("create item folder: %w", err)}
	}

	cmd := r.command(ctx, cfg.Downloader.Path, downloadArgs(cfg, folder, url)...)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &DownloadError{ItemID: itemID, Err: err}
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", &DownloadError{ItemID: itemID, Err: fmt.Errorf("start downloader: %w", err)}
	}

	announced := scanOutput(stdout, progress)

	if err := cmd.Wait(); err != nil {
		dlErr := &DownloadError{ItemID: itemID, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			dlErr.ExitCode = exitErr.ExitCode()
		}
		return "", dlErr
	}

	artifact := resolveArtifact(folder, announced)
	if artifact == "" {
		return "", &DownloadError{ItemID: itemID, Stderr: stderr.String(), Err: ErrNoArtifact}
	}
	if progress != nil {
		progress(100)
	}
	return artifact, nil
}

// scanOutput feeds stdout through the progress parser and returns every
// announced destination path in order.
func scanOutput(r io.Reader, progress ProgressFunc) []string {
	var announced []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sig := ParseProgressLine(scanner.Text())
		if sig.HasPercent && progress != nil {
			progress(sig.Percent)
		}
		if sig.Destination != "" {
			announced = append(announced, sig.Destination)
		}
	}
	// Keep draining so the child never blocks on a full pipe.
	io.Copy(io.Discard, r)
	return announced
}

// resolveArtifact picks the most recently announced media file that still
// exists, falling back to a scan of the item folder.
func resolveArtifact(folder string, announced []string) string {
	for i := len(announced) - 1; i >= 0; i-- {
		p := announced[i]
		if !isMediaFile(p) {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	for _, ext := range artifactExtensions {
		matches, err := filepath.Glob(filepath.Join(folder, "*"+ext))
		if err != nil {
			continue
		}
		for _, m := range matches {
			// Skip per-format intermediate streams like "title.f137.mp4".
			if isIntermediateStream(m) {
				continue
			}
			return m
		}
	}
	return ""
}

func isMediaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range artifactExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isIntermediateStream(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return false
	}
	suffix := base[dot+1:]
	if len(suffix) < 2 || suffix[0] != 'f' {
		return false
	}
	for _, c := range suffix[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// copyPoster duplicates the thumbnail under the name media servers look for.
func copyPoster(folder string, log logger.Logger) {
	src := filepath.Join(folder, thumbnailName+".jpg")
	dst := filepath.Join(folder, posterName)
	if err := copyFile(src, dst); err != nil {
		log.Warn("Thumbnail copy failed", logger.String("src", src), logger.Error(err))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
