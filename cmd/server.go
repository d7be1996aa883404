package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"vidsync/config"
	"vidsync/handlers"
	"vidsync/logger"
	"vidsync/metrics"
	"vidsync/middleware"
	"vidsync/services"
	"vidsync/websocket"
)

const shutdownTimeout = 15 * time.Second

// RouterDeps are the collaborators of the HTTP surface.
type RouterDeps struct {
	Version   string
	Config    *config.Manager
	Engine    services.Engine
	Hub       websocket.Hub
	Library   services.LibraryService
	Metrics   *metrics.Metrics
	Scheduler handlers.NextRunner
	Logger    logger.Logger
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var startupDelay time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return startWebServer(ctx, opts, startupDelay)
		},
	}
	cmd.Flags().DurationVar(&startupDelay, "startup-delay", services.DefaultStartupDelay, "delay before the first sync cycle")
	return cmd
}

// startWebServer runs the server until ctx is cancelled
func startWebServer(ctx context.Context, opts *rootOptions, startupDelay time.Duration) error {
	a, err := newApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := services.NewScheduler(a.engine, a.config, a.log)
	scheduler.SetStartupDelay(startupDelay)
	a.config.Subscribe(scheduler.OnConfigChange)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	if err := a.config.Watch(ctx); err != nil {
		a.log.Warn("Configuration hot reload disabled", logger.Error(err))
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(RouterDeps{
		Version:   opts.version,
		Config:    a.config,
		Engine:    a.engine,
		Hub:       a.hub,
		Library:   a.library,
		Metrics:   a.metrics,
		Scheduler: scheduler,
		Logger:    a.log,
	})

	port := a.config.Get().Port
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("vidsync web server starting", logger.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter builds the gin engine with every route.
func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config.Get()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Security())

	downloadHandler := handlers.NewDownloadHandler(d.Engine, d.Hub, cfg.Server.CORSOrigins, d.Logger)
	playlistHandler := handlers.NewPlaylistHandler(d.Engine, d.Logger)
	syncHandler := handlers.NewSyncHandler(d.Engine)
	resolveHandler := handlers.NewResolveHandler(d.Engine)
	fileHandler := handlers.NewFileHandler(d.Library, d.Config, d.Logger)
	healthHandler := handlers.NewHealthHandler(d.Version, d.Config, d.Engine, d.Scheduler)
	settingsHandler := handlers.NewSettingsHandler(d.Config, d.Logger)

	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)
		apiGroup.POST("/resolve", resolveHandler.Resolve)

		playlistsGroup := apiGroup.Group("/playlists")
		{
			playlistsGroup.GET("", playlistHandler.ListPlaylists)
			playlistsGroup.POST("", playlistHandler.AddPlaylist)
			playlistsGroup.PATCH("/:id", playlistHandler.UpdatePlaylist)
			playlistsGroup.DELETE("/:id", playlistHandler.DeletePlaylist)
			playlistsGroup.GET("/:id/items", playlistHandler.ListPlaylistItems)
			playlistsGroup.POST("/:id/sync", playlistHandler.SyncPlaylist)
		}
		apiGroup.GET("/items", playlistHandler.ListItems)
		apiGroup.POST("/sync", syncHandler.SyncAll)
		apiGroup.POST("/sponsorblock/sweep", syncHandler.Sweep)

		apiGroup.GET("/downloads", downloadHandler.GetStatus)
		apiGroup.GET("/downloads/stream", downloadHandler.StreamStatus)

		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
			wsGroup.GET("/downloads/:itemId", downloadHandler.HandleWebSocketConnection)
		}

		apiGroup.GET("/files", fileHandler.ListFiles)
		apiGroup.GET("/files/stream/*filepath", fileHandler.StreamFile)

		apiGroup.GET("/settings", settingsHandler.GetSettings)
		apiGroup.PUT("/settings", settingsHandler.UpdateSettings)
	}
	return r
}
