package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/khalidsaidi/ragmap/internal/authtoken"
	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/catalog/memstore"
	"github.com/khalidsaidi/ragmap/internal/catalog/pgstore"
	"github.com/khalidsaidi/ragmap/internal/config"
	"github.com/khalidsaidi/ragmap/internal/embedding"
	"github.com/khalidsaidi/ragmap/internal/httpapi"
	"github.com/khalidsaidi/ragmap/internal/ingest"
	"github.com/khalidsaidi/ragmap/internal/mcpadapter"
	"github.com/khalidsaidi/ragmap/internal/reachability"
	"github.com/khalidsaidi/ragmap/internal/telemetry"
	"github.com/khalidsaidi/ragmap/internal/upstream"
	"github.com/khalidsaidi/ragmap/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("RAGMAP_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("ragmap starting", "version", version, "port", cfg.Port, "storage", cfg.StorageBackend)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	metrics, err := telemetry.NewMetrics(cfg.ServiceName)
	if err != nil {
		logger.Warn("metrics init failed", "error", err)
	}

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	embedder := newEmbeddingProvider(cfg, logger)

	upstreamClient := upstream.New()
	prober := reachability.New()
	scheduler := reachability.NewScheduler(store, prober, reachability.Policy(cfg.ReachabilityPolicy), logger)
	coordinator := ingest.New(upstreamClient, store, embedder, scheduler, cfg.UpstreamBaseURL, logger)

	mcpSrv := mcpadapter.New(store, embedder, logger, version)

	jwtVerifier, err := authtoken.NewVerifier(cfg.JWTPublicKeyPath)
	if err != nil {
		return fmt.Errorf("authtoken: %w", err)
	}

	srv := httpapi.New(httpapi.Config{
		Store:              store,
		StorageKind:        cfg.StorageBackend,
		Coordinator:        coordinator,
		Scheduler:          scheduler,
		Embedder:           embedder,
		MCPServer:          mcpSrv.MCPServer(),
		Metrics:            metrics,
		JWTVerifier:        jwtVerifier,
		IngestToken:        cfg.IngestToken,
		Port:               cfg.Port,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	go ingestLoop(ctx, coordinator, metrics, logger, cfg.IngestInterval)
	go reachabilityLoop(ctx, scheduler, metrics, logger, cfg.ReachabilityInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("ragmap shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("ragmap stopped")
	return nil
}

// newStore constructs the configured catalog.Store implementation and
// returns a cleanup function that is always safe to call.
func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (catalog.Store, func(), error) {
	switch cfg.StorageBackend {
	case "memory":
		logger.Info("storage backend: in-memory (non-durable)")
		return memstore.New(5 * time.Minute), func() {}, nil

	default:
		st, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect: %w", err)
		}
		if err := st.RunMigrations(ctx, migrations.FS); err != nil {
			st.Close()
			return nil, func() {}, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("storage backend: postgres")
		return st, st.Close, nil
	}
}

// newEmbeddingProvider selects an embedding.Provider based on configuration.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when RAGMAP_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return p

	default:
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func ingestLoop(ctx context.Context, coordinator *ingest.Coordinator, metrics *telemetry.Metrics, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, loopTimeout(interval, 10*time.Minute))
			started := time.Now()
			stats, err := coordinator.Run(opCtx, catalog.RunModeIncremental)
			cancel()
			if err != nil {
				logger.Warn("ingest run failed", "error", err)
				continue
			}
			metrics.RecordIngestRun(ctx, time.Since(started).Seconds(), int64(stats.Upserted))
			logger.Info("ingest run complete",
				"run_id", stats.RunID, "fetched", stats.Fetched, "upserted", stats.Upserted, "hidden", stats.Hidden)
		}
	}
}

func reachabilityLoop(ctx context.Context, scheduler *reachability.Scheduler, metrics *telemetry.Metrics, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, loopTimeout(interval, 5*time.Minute))
			started := time.Now()
			checked, err := scheduler.Refresh(opCtx, 200)
			cancel()
			if err != nil {
				logger.Warn("reachability refresh failed", "error", err)
				continue
			}
			metrics.RecordProbe(ctx, time.Since(started).Seconds())
			logger.Info("reachability refresh complete", "checked", checked)
		}
	}
}

// loopTimeout bounds a per-cycle context so shutdown cancellation is always
// respected promptly, even when the trigger interval itself is very long.
func loopTimeout(interval, max time.Duration) time.Duration {
	if interval < max {
		return interval
	}
	return max
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
