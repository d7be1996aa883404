package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/store"
	"vidsync/types"
)

// ErrDuplicatePlaylist is returned when adding a URL that is already tracked.
var ErrDuplicatePlaylist = errors.New("playlist already exists")

// Engine is the operation set exposed to HTTP handlers, the CLI and the scheduler.
type Engine interface {
	ResolveSource(ctx context.Context, source string) (*types.Listing, error)

	ListPlaylists(ctx context.Context) ([]types.PlaylistRef, error)
	AddPlaylist(ctx context.Context, url string, enabled bool) (*types.PlaylistRef, error)
	UpdatePlaylist(ctx context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error)
	DeletePlaylist(ctx context.Context, id string, deleteFiles bool) error
	ListItems(ctx context.Context, playlistID string) ([]types.ItemRecord, error)

	SyncPlaylist(ctx context.Context, id string) (int, error)
	SyncAll(ctx context.Context) (types.SyncSummary, error)
	RunSponsorSweep(ctx context.Context) (types.SweepResult, error)
	// RunCycle syncs all enabled playlists, then sweeps. A call made while
	// another cycle is running returns immediately with Skipped set.
	RunCycle(ctx context.Context) types.CycleReport

	Status() types.QueueStatus
	WaitIdle(ctx context.Context) error
}

// Deps groups the collaborators of the engine.
type Deps struct {
	Config     config.Provider
	Store      store.Store
	Lister     SourceLister
	Queue      JobQueue
	Reconciler *Reconciler
	Sweeper    *Sweeper
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

type engine struct {
	Deps

	// opMu serializes sync and sweep so a sweep's delete+re-enqueue never
	// interleaves with a reconciliation.
	opMu         sync.Mutex
	cycleRunning atomic.Bool
}

// NewEngine creates the engine.
func NewEngine(d Deps) Engine {
	return &engine{Deps: d}
}

func (e *engine) ResolveSource(ctx context.Context, source string) (*types.Listing, error) {
	return e.Lister.Resolve(ctx, source)
}

func (e *engine) ListPlaylists(ctx context.Context) ([]types.PlaylistRef, error) {
	return e.Store.GetPlaylists(ctx)
}

func (e *engine) AddPlaylist(ctx context.Context, url string, enabled bool) (*types.PlaylistRef, error) {
	url = strings.TrimSpace(url)
	existing, err := e.Store.GetPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		if p.URL == url {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlaylist, p.ID)
		}
	}

	listing, err := e.Lister.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	p := types.PlaylistRef{
		ID:        uuid.New().String(),
		URL:       url,
		Title:     listing.Title,
		Enabled:   enabled,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.Store.AddPlaylist(ctx, p); err != nil {
		return nil, err
	}
	e.Logger.Info("Playlist added",
		logger.String("playlist_id", p.ID),
		logger.String("title", p.Title),
		logger.Int("items", len(listing.Items)))
	return &p, nil
}

func (e *engine) UpdatePlaylist(ctx context.Context, id string, patch types.PlaylistPatch) (*types.PlaylistRef, error) {
	p, err := e.Store.UpdatePlaylist(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
	}
	return p, nil
}

func (e *engine) DeletePlaylist(ctx context.Context, id string, deleteFiles bool) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	items, err := e.Store.GetItems(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.DeletePlaylist(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
		}
		return err
	}
	if deleteFiles {
		root := e.Config.Get().DownloadRoot
		for _, rec := range items {
			if ValidateItemID(rec.ID) != nil {
				continue
			}
			if err := os.RemoveAll(RecordFolder(root, rec)); err != nil {
				e.Logger.Warn("Failed to remove item folder", logger.String("item_id", rec.ID), logger.Error(err))
			}
		}
	}
	e.Logger.Info("Playlist deleted",
		logger.String("playlist_id", id),
		logger.Int("records", len(items)),
		logger.Bool("delete_files", deleteFiles))
	return nil
}

func (e *engine) ListItems(ctx context.Context, playlistID string) ([]types.ItemRecord, error) {
	if playlistID != "" {
		if _, err := e.Store.GetPlaylist(ctx, playlistID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
			}
			return nil, err
		}
	}
	return e.Store.GetItems(ctx, playlistID)
}

func (e *engine) SyncPlaylist(ctx context.Context, id string) (int, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	p, err := e.Store.GetPlaylist(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
		}
		return 0, err
	}
	return e.Reconciler.Reconcile(ctx, *p)
}

func (e *engine) SyncAll(ctx context.Context) (types.SyncSummary, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.syncAll(ctx)
}

func (e *engine) syncAll(ctx context.Context) (types.SyncSummary, error) {
	summary := types.SyncSummary{}
	playlists, err := e.Store.GetPlaylists(ctx)
	if err != nil {
		return summary, err
	}
	for _, p := range playlists {
		if !p.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Playlists++
		n, err := e.Reconciler.Reconcile(ctx, p)
		summary.Enqueued += n
		if err != nil {
			e.Logger.Error("Playlist sync failed",
				logger.String("playlist_id", p.ID),
				logger.String("url", p.URL),
				logger.Error(err))
			if summary.Failures == nil {
				summary.Failures = make(map[string]string)
			}
			summary.Failures[p.ID] = err.Error()
		}
	}
	return summary, nil
}

func (e *engine) RunSponsorSweep(ctx context.Context) (types.SweepResult, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.Sweeper.Sweep(ctx)
}

func (e *engine) RunCycle(ctx context.Context) types.CycleReport {
	report := types.CycleReport{StartedAt: time.Now().UTC()}
	if !e.cycleRunning.CompareAndSwap(false, true) {
		e.Logger.Warn("Sync cycle already running, skipping")
		report.Skipped = true
		return report
	}
	defer e.cycleRunning.Store(false)

	e.Logger.Info("Sync cycle started")
	summary, err := e.SyncAll(ctx)
	if err != nil {
		e.Logger.Error("Sync cycle aborted", logger.Error(err))
	}
	report.Sync = summary

	sweep, err := e.RunSponsorSweep(ctx)
	if err != nil {
		e.Logger.Error("Sponsor segment sweep failed", logger.Error(err))
	}
	report.Sweep = sweep

	report.Duration = time.Since(report.StartedAt)
	e.Metrics.ObserveCycle(report.Duration)
	e.Logger.Info("Sync cycle finished",
		logger.Int("playlists", summary.Playlists),
		logger.Int("enqueued", summary.Enqueued),
		logger.Int("failures", len(summary.Failures)),
		logger.Int("requeued", len(sweep.Requeued)),
		logger.Duration("duration", report.Duration))
	return report
}

func (e *engine) Status() types.QueueStatus {
	return e.Queue.Status()
}

func (e *engine) WaitIdle(ctx context.Context) error {
	return e.Queue.WaitIdle(ctx)
}
