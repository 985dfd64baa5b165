// Reflection judge daemon: grades idle agent sessions and pushes them to finish their task.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/reflection-judge/internal/api"
	"github.com/ashureev/reflection-judge/internal/config"
	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/ashureev/reflection-judge/internal/health"
	"github.com/ashureev/reflection-judge/internal/host"
	"github.com/ashureev/reflection-judge/internal/middleware"
	"github.com/ashureev/reflection-judge/internal/reflection"
	"github.com/ashureev/reflection-judge/internal/store"
	"github.com/ashureev/reflection-judge/internal/stream"
	"github.com/ashureev/reflection-judge/internal/worker"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting reflection judge", "host_url", cfg.Host.URL, "status_addr", cfg.StatusAddr, "max_attempts", cfg.Judge.MaxAttempts)

	// Initialize audit persistence.
	repo, err := store.NewSQLite(cfg.Audit.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.Audit.DBPath)

	dumper, err := store.NewJSONDumper(store.DumpConfig{
		Enabled:   cfg.Audit.DumpEnabled,
		Dir:       cfg.Audit.DumpDir,
		QueueSize: 100,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize reflection dumps", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := dumper.Close(); closeErr != nil {
			slog.Warn("Failed to close reflection dumper", "error", closeErr)
		}
	}()

	hostClient, err := host.NewClient(host.Config{
		BaseURL:        cfg.Host.URL,
		Directory:      cfg.Host.Directory,
		RequestTimeout: cfg.Host.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize host client", "error", err)
		os.Exit(1)
	}

	hub := stream.NewHub(100, cfg.CORSOrigins, logger)
	defer hub.Close()

	var judgeModel *domain.ModelRef
	if cfg.HasJudgeModel() {
		judgeModel = &domain.ModelRef{ProviderID: cfg.Judge.ProviderID, ModelID: cfg.Judge.ModelID}
	}

	state := reflection.NewReflectionState(cfg.Judge.MaxAttempts)
	controller, err := reflection.NewController(reflection.ControllerConfig{
		Host:  hostClient,
		State: state,
		Judge: reflection.JudgeConfig{
			PollInterval: cfg.Judge.PollInterval,
			Timeout:      cfg.Judge.Timeout,
			Model:        judgeModel,
		},
		Instructions: func() string {
			return reflection.LoadProjectInstructions(cfg.ProjectDir)
		},
		Recorder:      store.MultiRecorder{repo, dumper},
		Observer:      hub,
		Metrics:       reflection.DefaultMetrics(),
		Logger:        logger,
		NotifyEnabled: cfg.NotifyEnabled,
	})
	if err != nil {
		slog.Error("Failed to initialize reflection controller", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional gRPC health endpoint, SERVING while the host event stream is up.
	var healthServer *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthServer = health.NewServer(logger)
		go func() {
			if err := healthServer.Serve(cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
		defer healthServer.Stop()
	}

	events := hostClient.Events(ctx, func(connected bool) {
		slog.Info("Host event stream state changed", "connected", connected)
		if healthServer != nil {
			healthServer.SetServing(connected)
		}
	})

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		controller.Run(ctx, events)
	}()

	var retentionDone <-chan struct{}
	if cfg.Audit.Retention > 0 {
		retentionDone = worker.StartRetentionWorker(ctx, repo, cfg.Audit.Retention, worker.DefaultRetentionInterval)
	}

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}

	statusHandler := api.NewHandler(state, api.Options{
		Records:  repo,
		DB:       repo,
		Watchers: hub,
	})
	statusHandler.RegisterRoutes(r)

	// Websocket watchers are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Status server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Status server forced to shutdown", "error", err)
	}

	select {
	case <-controllerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Reflection passes still running at shutdown")
	}
	if retentionDone != nil {
		<-retentionDone
	}

	slog.Info("Reflection judge stopped")
}
