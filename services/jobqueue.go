package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/types"
	"vidsync/websocket"
)

// DefaultAdmissionPoll is how long the drain loop waits before re-checking a full running set.
const DefaultAdmissionPoll = time.Second

// JobQueue is the pending FIFO plus the bounded running set. Enqueue never
// blocks; job outcomes are observed through Status, the hub and the record store.
type JobQueue interface {
	// Enqueue appends entry unless the item is already pending or running.
	Enqueue(entry types.PendingEntry) bool
	Contains(itemID string) bool
	Status() types.QueueStatus
	// WaitIdle blocks until nothing is pending or running.
	WaitIdle(ctx context.Context) error
}

// jobQueue manages download jobs
type jobQueue struct {
	ctx     context.Context
	cfg     config.Provider
	runner  Runner
	hub     websocket.Hub
	metrics *metrics.Metrics
	log     logger.Logger

	poll      time.Duration
	slotFreed chan struct{}

	mu       sync.Mutex
	pending  []types.PendingEntry
	running  map[string]*types.JobProgress
	draining bool
}

// NewJobQueue creates a queue whose jobs run under ctx. hub and m may be nil.
func NewJobQueue(ctx context.Context, cfg config.Provider, runner Runner, hub websocket.Hub, m *metrics.Metrics, log logger.Logger) JobQueue {
	return newJobQueue(ctx, cfg, runner, hub, m, log, DefaultAdmissionPoll)
}

func newJobQueue(ctx context.Context, cfg config.Provider, runner Runner, hub websocket.Hub, m *metrics.Metrics, log logger.Logger, poll time.Duration) *jobQueue {
	return &jobQueue{
		ctx:       ctx,
		cfg:       cfg,
		runner:    runner,
		hub:       hub,
		metrics:   m,
		log:       log,
		poll:      poll,
		slotFreed: make(chan struct{}, 1),
		running:   make(map[string]*types.JobProgress),
	}
}

func (q *jobQueue) Enqueue(entry types.PendingEntry) bool {
	q.mu.Lock()
	if q.containsLocked(entry.ItemID) {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, entry)
	start := !q.draining
	q.draining = true
	q.publishGaugesLocked()
	q.mu.Unlock()

	q.broadcast(entry.ItemID, websocket.MessageStatus, types.JobStateQueued, entry.Title, "queued", 0)
	if start {
		go q.drain()
	}
	return true
}

func (q *jobQueue) Contains(itemID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containsLocked(itemID)
}

func (q *jobQueue) containsLocked(itemID string) bool {
	if _, ok := q.running[itemID]; ok {
		return true
	}
	for _, e := range q.pending {
		if e.ItemID == itemID {
			return true
		}
	}
	return false
}

func (q *jobQueue) Status() types.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := make([]types.JobProgress, 0, len(q.running))
	for _, job := range q.running {
		active = append(active, *job)
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].StartedAt.Before(active[j].StartedAt)
		}
		return active[i].ItemID < active[j].ItemID
	})
	return types.QueueStatus{Active: active, QueueLength: len(q.pending)}
}

func (q *jobQueue) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && len(q.running) == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain admits pending entries while the running set is below the ceiling.
// Only one drain loop runs at a time; it exits when the pending list empties.
func (q *jobQueue) drain() {
	for {
		limit := q.cfg.Get().MaxConcurrentDownloads
		if limit < 1 {
			limit = 1
		}

		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		if len(q.running) >= limit {
			q.mu.Unlock()
			q.waitForSlot()
			continue
		}

		entry := q.pending[0]
		q.pending = q.pending[1:]
		job := &types.JobProgress{
			ItemID:     entry.ItemID,
			PlaylistID: entry.PlaylistID,
			Title:      entry.Title,
			State:      types.JobStateDownloading,
			StartedAt:  time.Now(),
		}
		q.running[entry.ItemID] = job
		q.publishGaugesLocked()
		q.mu.Unlock()

		q.broadcast(entry.ItemID, websocket.MessageStatus, types.JobStateDownloading, entry.Title,
			fmt.Sprintf("Started downloading %s", entry.Title), 0)
		go q.run(entry)
	}
}

func (q *jobQueue) waitForSlot() {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	select {
	case <-q.slotFreed:
	case <-timer.C:
	case <-q.ctx.Done():
	}
}

// run executes one admitted job. Errors are logged, never propagated.
func (q *jobQueue) run(entry types.PendingEntry) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in download job: %v", r)
		}
		q.finish(entry, err, time.Since(start))
	}()

	err = q.runner.Run(q.ctx, entry, func(percent float64) {
		q.setProgress(entry.ItemID, percent)
	})
}

func (q *jobQueue) setProgress(itemID string, percent float64) {
	q.mu.Lock()
	job, ok := q.running[itemID]
	if !ok {
		q.mu.Unlock()
		return
	}
	changed := int(job.Percent) != int(percent)
	job.Percent = percent
	title := job.Title
	q.mu.Unlock()

	if changed {
		q.broadcast(itemID, websocket.MessageProgress, types.JobStateDownloading, title, "", percent)
	}
}

// finish reflects the terminal state, then frees the slot.
func (q *jobQueue) finish(entry types.PendingEntry, err error, elapsed time.Duration) {
	state := types.JobStateCompleted
	if err != nil {
		state = types.JobStateFailed
	}

	q.mu.Lock()
	if job, ok := q.running[entry.ItemID]; ok {
		job.State = state
		if err != nil {
			job.Error = err.Error()
		} else {
			job.Percent = 100
		}
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Error("Download job failed",
			logger.String("item_id", entry.ItemID),
			logger.String("playlist_id", entry.PlaylistID),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		q.broadcast(entry.ItemID, websocket.MessageError, state, entry.Title, err.Error(), 0)
	} else {
		q.log.Info("Download job completed",
			logger.String("item_id", entry.ItemID),
			logger.Duration("elapsed", elapsed))
		q.broadcast(entry.ItemID, websocket.MessageComplete, state, entry.Title,
			fmt.Sprintf("%s download completed", entry.Title), 100)
	}
	q.metrics.ObserveDownload(string(state), elapsed)

	q.mu.Lock()
	delete(q.running, entry.ItemID)
	q.publishGaugesLocked()
	q.mu.Unlock()

	select {
	case q.slotFreed <- struct{}{}:
	default:
	}
}

func (q *jobQueue) publishGaugesLocked() {
	q.metrics.SetQueue(len(q.running), len(q.pending))
}

func (q *jobQueue) broadcast(itemID, msgType string, state types.JobState, title, message string, progress float64) {
	if q.hub == nil {
		return
	}
	q.hub.BroadcastProgress(itemID, msgType, state, title, message, progress)
}
