package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/store"
	"vidsync/types"
)

// Reconciler diffs one playlist's remote listing against its local records.
type Reconciler struct {
	cfg     config.Provider
	store   store.Store
	lister  SourceLister
	queue   JobQueue
	metrics *metrics.Metrics
	log     logger.Logger

	now       func() time.Time
	removeAll func(path string) error
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg config.Provider, st store.Store, lister SourceLister, queue JobQueue, m *metrics.Metrics, log logger.Logger) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		store:     st,
		lister:    lister,
		queue:     queue,
		metrics:   m,
		log:       log,
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
}

// Reconcile purges records the remote no longer lists and enqueues every
// listed item without a completed record. It returns the number of items
// accepted by the queue. A listing failure is returned before anything is
// touched; once the listing succeeded the playlist's lastChecked is
// recorded regardless of later errors.
func (r *Reconciler) Reconcile(ctx context.Context, playlist types.PlaylistRef) (enqueued int, err error) {
	log := r.log.With(logger.String("playlist_id", playlist.ID))
	defer func() { r.metrics.ObserveReconciliation(err == nil) }()

	listing, err := r.lister.Resolve(ctx, playlist.URL)
	if err != nil {
		return 0, err
	}
	if listing.Title != "" && listing.Title != playlist.Title {
		title := listing.Title
		if _, err := r.store.UpdatePlaylist(ctx, playlist.ID, types.PlaylistPatch{Title: &title}); err != nil {
			return 0, fmt.Errorf("update playlist title: %w", err)
		}
	}

	defer func() {
		checked := r.now().UTC()
		if _, uerr := r.store.UpdatePlaylist(ctx, playlist.ID, types.PlaylistPatch{LastChecked: &checked}); uerr != nil {
			log.Error("Failed to record last check", logger.Error(uerr))
			err = errors.Join(err, fmt.Errorf("record last check: %w", uerr))
		}
	}()

	remote := make(map[string]struct{}, len(listing.Items))
	for _, item := range listing.Items {
		remote[item.ID] = struct{}{}
	}

	records, err := r.store.GetItems(ctx, playlist.ID)
	if err != nil {
		return 0, fmt.Errorf("load item records: %w", err)
	}

	root := r.cfg.Get().DownloadRoot
	purged := 0
	for _, rec := range records {
		if _, ok := remote[rec.ID]; ok {
			continue
		}
		if r.queue.Contains(rec.ID) {
			log.Debug("Skipping purge of queued item", logger.String("item_id", rec.ID))
			continue
		}
		// Folder first: a crash in between leaves an orphan folder, never an orphan record.
		if ValidateItemID(rec.ID) == nil {
			if rmErr := r.removeAll(RecordFolder(root, rec)); rmErr != nil {
				log.Warn("Failed to remove item folder", logger.String("item_id", rec.ID), logger.Error(rmErr))
			}
		}
		if _, err := r.store.DeleteItem(ctx, rec.ID); err != nil {
			return 0, fmt.Errorf("delete record %s: %w", rec.ID, err)
		}
		purged++
	}

	for _, item := range listing.Items {
		if err := ValidateItemID(item.ID); err != nil {
			log.Warn("Skipping item with unusable id", logger.Error(err))
			continue
		}
		done, err := r.store.IsCompleted(ctx, item.ID)
		if err != nil {
			return enqueued, fmt.Errorf("check item %s: %w", item.ID, err)
		}
		if done {
			continue
		}
		if r.queue.Enqueue(types.PendingEntry{
			ItemID:     item.ID,
			Title:      item.Title,
			URL:        item.URL,
			PlaylistID: playlist.ID,
		}) {
			enqueued++
		}
	}

	log.Info("Playlist reconciled",
		logger.Int("remote", len(listing.Items)),
		logger.Int("purged", purged),
		logger.Int("enqueued", enqueued))
	return enqueued, nil
}
