package services

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/store"
	"vidsync/types"
)

// Sweeper re-probes completed items that lack confirmed skip-segment data and
// schedules a full re-download for those where data has appeared, since the
// markers are embedded in the container at download time.
type Sweeper struct {
	cfg     config.Provider
	store   store.Store
	probe   SegmentProbe
	queue   JobQueue
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewSweeper creates a Sweeper. Probes are throttled to the configured rate,
// re-read at the start of every sweep.
func NewSweeper(cfg config.Provider, st store.Store, probe SegmentProbe, queue JobQueue, m *metrics.Metrics, log logger.Logger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		store:   st,
		probe:   probe,
		queue:   queue,
		limiter: rate.NewLimiter(probeLimit(cfg.Get().SponsorBlock.RequestsPerSecond), 1),
		metrics: m,
		log:     log,
	}
}

func probeLimit(rps float64) rate.Limit {
	if rps > 0 {
		return rate.Limit(rps)
	}
	return rate.Inf
}

// Sweep runs one revisitation pass.
func (s *Sweeper) Sweep(ctx context.Context) (types.SweepResult, error) {
	result := types.SweepResult{Requeued: []string{}}
	cfg := s.cfg.Get()
	if len(cfg.SponsorBlockCategories) == 0 {
		return result, nil
	}
	s.limiter.SetLimit(probeLimit(cfg.SponsorBlock.RequestsPerSecond))

	records, err := s.store.GetItems(ctx, "")
	if err != nil {
		return result, fmt.Errorf("load item records: %w", err)
	}

	for _, rec := range records {
		if !rec.IsCompleted() || rec.SponsorBlockConfirmed() {
			continue
		}
		if s.queue.Contains(rec.ID) {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}
		result.Checked++
		if !s.probe.HasSegments(ctx, rec.ID, cfg.SponsorBlockCategories) {
			continue
		}
		if err := s.requeue(ctx, cfg.DownloadRoot, rec); err != nil {
			s.log.Warn("Sponsor re-download not scheduled", logger.String("item_id", rec.ID), logger.Error(err))
			continue
		}
		result.Requeued = append(result.Requeued, rec.ID)
		s.metrics.ObserveRequeue()
	}

	s.log.Info("Sponsor segment sweep finished",
		logger.Int("checked", result.Checked),
		logger.Int("requeued", len(result.Requeued)))
	return result, nil
}

// requeue deletes the item's folder and record, then enqueues it under its original playlist.
func (s *Sweeper) requeue(ctx context.Context, root string, rec types.ItemRecord) error {
	if err := ValidateItemID(rec.ID); err != nil {
		return err
	}
	if err := os.RemoveAll(RecordFolder(root, rec)); err != nil {
		return fmt.Errorf("remove item folder: %w", err)
	}
	if _, err := s.store.DeleteItem(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	url := rec.SourceURL
	if url == "" {
		url = WatchURL(rec.ID)
	}
	s.queue.Enqueue(types.PendingEntry{
		ItemID:     rec.ID,
		Title:      rec.Title,
		URL:        url,
		PlaylistID: rec.PlaylistID,
	})
	return nil
}
