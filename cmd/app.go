package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"vidsync/config"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/services"
	"vidsync/store"
	"vidsync/websocket"
)

// app holds the wired components shared by the subcommands.
type app struct {
	config  *config.Manager
	log     logger.Logger
	metrics *metrics.Metrics
	store   store.Store
	hub     websocket.Hub
	engine  services.Engine
	library services.LibraryService
}

// loadConfig loads the configuration, builds the logger and checks that the
// downloader executable can be found.
func loadConfig(configPath string) (*config.Manager, logger.Logger, error) {
	mgr, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := mgr.Get()

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	mgr.SetLogger(log)

	if _, err := exec.LookPath(cfg.Downloader.Path); err != nil {
		return nil, nil, fmt.Errorf("downloader %q not found on PATH: %w", cfg.Downloader.Path, err)
	}
	return mgr, log, nil
}

// newApp loads configuration and builds every component. Jobs started by the
// queue and the hub loop live until ctx is cancelled.
func newApp(ctx context.Context, configPath string) (*app, error) {
	mgr, log, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	if err := os.MkdirAll(cfg.DownloadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("%s is in use by another vidsync process: %w", cfg.Store.Path, err)
		}
		return nil, fmt.Errorf("open record store: %w", err)
	}

	m := metrics.New()
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	probe := services.NewSponsorBlockProbe(mgr, m, log)
	lister := services.NewLister(mgr, log)
	runner := services.NewRunner(mgr, st, probe, log)
	queue := services.NewJobQueue(ctx, mgr, runner, hub, m, log)

	engine := services.NewEngine(services.Deps{
		Config:     mgr,
		Store:      st,
		Lister:     lister,
		Queue:      queue,
		Reconciler: services.NewReconciler(mgr, st, lister, queue, m, log),
		Sweeper:    services.NewSweeper(mgr, st, probe, queue, m, log),
		Metrics:    m,
		Logger:     log,
	})

	log.Info("Components initialized",
		logger.String("download_root", cfg.DownloadRoot),
		logger.String("store_driver", cfg.Store.Driver),
		logger.String("store_path", cfg.Store.Path),
		logger.Int("max_concurrent", cfg.MaxConcurrentDownloads),
		logger.Strings("sponsorblock_categories", cfg.SponsorBlockCategories))

	return &app{
		config:  mgr,
		log:     log,
		metrics: m,
		store:   st,
		hub:     hub,
		engine:  engine,
		library: services.NewLibraryService(log),
	}, nil
}

// Close releases the record store and flushes the logger.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close record store", logger.Error(err))
	}
	_ = a.log.Sync()
}
