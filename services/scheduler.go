package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/types"
)

// DefaultStartupDelay is the pause between startup and the first cycle.
const DefaultStartupDelay = 10 * time.Second

// CycleRunner is the periodic entry point.
type CycleRunner interface {
	RunCycle(ctx context.Context) types.CycleReport
}

// Scheduler triggers a full cycle once shortly after startup and then on the
// configured interval. The interval follows configuration changes.
type Scheduler struct {
	runner       CycleRunner
	cfg          config.Provider
	log          logger.Logger
	startupDelay time.Duration
	cron         *cron.Cron

	mu       sync.Mutex
	entryID  cron.EntryID
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner CycleRunner, cfg config.Provider, log logger.Logger) *Scheduler {
	cl := logger.CronLogger(log)
	return &Scheduler{
		runner:       runner,
		cfg:          cfg,
		log:          log,
		startupDelay: DefaultStartupDelay,
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}
}

// SetStartupDelay overrides the delay before the first cycle. Call before Start.
func (s *Scheduler) SetStartupDelay(d time.Duration) {
	s.startupDelay = d
}

// Start schedules the periodic job and the startup run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.Reschedule(s.cfg.Get().CheckInterval()); err != nil {
		return err
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.startupDelay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
		case <-timer.C:
			s.trigger()
		}
	}()

	s.log.Info("Scheduler started",
		logger.Duration("interval", s.Interval()),
		logger.Duration("startup_delay", s.startupDelay))
	return nil
}

// Reschedule replaces the periodic entry when interval differs from the current one.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 && interval == s.interval {
		return nil
	}
	id, err := s.cron.AddFunc("@every "+interval.String(), s.trigger)
	if err != nil {
		return fmt.Errorf("schedule cycle: %w", err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.interval = interval
	return nil
}

// OnConfigChange is a config.Listener restarting the timer when the interval changes.
func (s *Scheduler) OnConfigChange(old, updated config.Configuration) {
	if old.CheckInterval() == updated.CheckInterval() {
		return
	}
	if err := s.Reschedule(updated.CheckInterval()); err != nil {
		s.log.Error("Failed to reschedule sync cycle", logger.Error(err))
		return
	}
	s.log.Info("Sync interval changed", logger.Duration("interval", updated.CheckInterval()))
}

// Interval returns the active cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NextRun returns the next scheduled time, or zero if not scheduled.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) trigger() {
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	s.runner.RunCycle(s.ctx)
}

// Stop cancels pending triggers and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}
