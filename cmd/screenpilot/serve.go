package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/screenpilot/internal/action"
	"github.com/ashureev/screenpilot/internal/api"
	"github.com/ashureev/screenpilot/internal/automation"
	"github.com/ashureev/screenpilot/internal/catalog"
	"github.com/ashureev/screenpilot/internal/cloud"
	"github.com/ashureev/screenpilot/internal/config"
	"github.com/ashureev/screenpilot/internal/conversation"
	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/download"
	"github.com/ashureev/screenpilot/internal/focus"
	"github.com/ashureev/screenpilot/internal/health"
	"github.com/ashureev/screenpilot/internal/identity"
	"github.com/ashureev/screenpilot/internal/inference"
	"github.com/ashureev/screenpilot/internal/llm"
	"github.com/ashureev/screenpilot/internal/recall"
	"github.com/ashureev/screenpilot/internal/state"
	"github.com/ashureev/screenpilot/internal/store"
	"github.com/ashureev/screenpilot/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC health daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

//nolint:gocyclo // Startup wiring is kept sequential so the dependency order stays explicit.
func serve(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("Starting ScreenPilot", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	// Persistence.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}

	var persist store.Repository = repo
	if cfg.RedisAddr != "" {
		mem, err := store.NewRedisMemories(ctx, cfg.RedisAddr, cfg.RedisPassword, "")
		if err != nil {
			slog.Warn("Redis unavailable, keeping memories in SQLite", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer func() { _ = mem.Close() }()
			persist = store.WithMemories(repo, mem)
			slog.Info("Memories stored in Redis", "addr", cfg.RedisAddr)
		}
	}

	sessionID, err := identity.EnsureSessionID(ctx, repo)
	if err != nil {
		return err
	}
	selection := cloud.NewSelection(repo)
	if err := selection.Load(ctx); err != nil && !errors.Is(err, store.ErrSettingNotFound) {
		slog.Warn("Failed to restore cloud model", "error", err)
	}

	// Models and inference.
	entries, err := catalog.LoadEntries(cfg.CatalogPath)
	if err != nil {
		return err
	}
	models, err := catalog.NewDockerCatalog(entries, logger)
	if err != nil {
		return fmt.Errorf("initialize model catalog: %w", err)
	}
	defer func() { _ = models.Close() }()

	ui := state.NewCell(domain.UIState{})
	local := llm.NewLocal(llm.LocalConfig{
		BaseURL: cfg.LocalModelURL,
		Resolve: func(slug string) (string, bool) {
			e, ok := models.Lookup(slug)
			return e.Model, ok
		},
		MaxTokens:   int64(cfg.LocalMaxTokens),
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	engine := inference.NewEngine(local)

	downloads := download.NewCoordinator(models, engine, ui, download.Config{
		ClearAfter: cfg.DownloadClearAfter,
		Logger:     logger,
	})
	defer downloads.Close()

	var probe func(context.Context) bool
	if cfg.CloudHealthAddr != "" {
		prober, err := health.NewProber(health.ProberConfig{Address: cfg.CloudHealthAddr, Logger: logger})
		if err != nil {
			return fmt.Errorf("initialize cloud health probe: %w", err)
		}
		defer prober.Close()
		probe = prober.Available
	}
	cloudProvider := llm.NewCloud(llm.CloudConfig{
		BaseURL: cfg.CloudBaseURL,
		APIKey:  cfg.CloudAPIKey,
		Model:   func() string { return selection.Current().APIName() },
		Probe:   probe,
		Logger:  logger,
	})

	// Device automation and conversation.
	bridge := automation.NewBridge(automation.BridgeConfig{
		RequestTimeout: cfg.DeviceRequestTimeout,
		AllowedOrigin:  cfg.FrontendURL,
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})
	executor := action.NewExecutor(bridge, ui, action.WithLogger(logger))

	index, err := recall.NewIndex(logger)
	if err != nil {
		return fmt.Errorf("initialize recall index: %w", err)
	}
	defer func() { _ = index.Close() }()

	convLog, err := conversation.NewConversationLogger(conversation.LogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() { _ = convLog.Close() }()

	orch := conversation.New(sessionID, conversation.Deps{
		Store:     persist,
		Responder: engine,
		Plans:     executor,
		Recall:    index,
		Screens:   bridge,
		Registry:  bridge,
		Indexer:   index,
		ConvLog:   convLog,
		UI:        ui,
		Logger:    logger,
	})
	defer orch.Close()
	if err := orch.Load(ctx); err != nil {
		slog.Warn("Failed to load conversation history", "error", err)
	}

	router := inference.NewRouter(engine, cloudProvider, bridge, ui, inference.RouterConfig{
		MaxSuggestions: cfg.MaxSuggestions,
		Logger:         logger,
	})
	defer router.Close()

	selector := focus.NewSelector(nil, func(region *domain.FocusRegion) {
		router.Refocus(ctx, region).Discard()
	}, focus.WithMinSize(float64(cfg.FocusMinSize)), focus.WithLogger(logger))
	defer selector.Stop()

	// Background services.
	maintenance, err := worker.New(downloads, repo, worker.Config{
		CatalogSchedule:   cfg.CatalogRefreshSchedule,
		RetentionSchedule: cfg.RetentionSchedule,
		Retention:         cfg.Retention,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	healthSrv := health.NewServer(ui, logger)

	origins := []string{"*"}
	if !cfg.IsDevelopment() && cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	limiter := api.NewRateLimiter(cfg.ChatRateLimit, time.Minute)
	defer limiter.Close()

	handler := api.NewHandler(api.Deps{
		Chat:        orch,
		Downloads:   downloads,
		Suggestions: router,
		Focus:       selector,
		Cloud:       selection,
		Cells: api.Cells{
			UI:             ui,
			Conversation:   orch.Conversation,
			Suggestions:    router.State,
			Downloads:      downloads.Downloads,
			LegacyDownload: downloads.Legacy,
			Models:         downloads.Models,
			FocusSelection: selector.Selection,
			FocusRegion:    selector.Region,
		},
		Device:         bridge,
		RateLimiter:    limiter,
		AllowedOrigins: origins,
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})

	// SSE needs long-lived responses, so WriteTimeout stays 0.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, api.RouterConfig{CORSOrigins: origins, SessionID: sessionID}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return maintenance.Run(gctx) })
	g.Go(func() error { return healthSrv.Serve(gctx, lis) })
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr, "session_id", sessionID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
