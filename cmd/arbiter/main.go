package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/api"
	"github.com/arbiterhq/arbiter/internal/archive"
	"github.com/arbiterhq/arbiter/internal/bus"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/provider"
	"github.com/arbiterhq/arbiter/internal/selection"
	"github.com/arbiterhq/arbiter/internal/supervisor"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Arbiter...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/arbiter.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize completion client
	clientCfg := provider.ClientConfig{
		Endpoint: cfg.Provider.Endpoint,
		APIKey:   cfg.Provider.APIKey,
		Model:    cfg.Provider.Model,
		Timeout:  time.Duration(cfg.Provider.TimeoutSec) * time.Second,
	}
	var completer provider.Completer
	switch cfg.Provider.Type {
	case "openai":
		completer = provider.NewOpenAIClient(clientCfg, logger)
	case "anthropic":
		completer = provider.NewAnthropicClient(clientCfg, logger)
	default:
		logger.Fatal("unknown provider type", zap.String("type", cfg.Provider.Type))
	}

	// Initialize model selection
	selector, err := selection.NewService(selection.Options{
		DefaultModel:  cfg.Selection.DefaultModel,
		FallbackChain: cfg.Selection.FallbackChain,
		Thresholds: selection.Thresholds{
			MinAccuracy:  cfg.Selection.Thresholds.MinAccuracy,
			MaxLatencyMs: cfg.Selection.Thresholds.MaxLatencyMs,
			MaxErrorRate: cfg.Selection.Thresholds.MaxErrorRate,
		},
		MaxRetries: cfg.Selection.MaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize model selection", zap.Error(err))
	}

	// Initialize message queue, mirrored to Redis Streams when available
	queue := bus.NewQueue(logger)
	var mirror *bus.RedisMirror
	if cfg.Database.Redis.URL != "" {
		m, mErr := bus.NewRedisMirror(cfg.Database.Redis.URL, logger)
		if mErr != nil {
			logger.Warn("Redis unavailable, running without message mirror", zap.Error(mErr))
		} else {
			queue.SetMirror(m)
			mirror = m
			logger.Info("Redis message mirror initialized")
		}
	}

	// Initialize coordinator
	coordinator := supervisor.NewCoordinator(completer, queue, supervisor.Options{
		PhaseTimeout:        cfg.PhaseTimeout(),
		SimulatedDelay:      time.Duration(cfg.Supervisor.SimulatedDelayMs) * time.Millisecond,
		ComplianceConflicts: cfg.Supervisor.ComplianceConflicts,
	}, logger)

	// Initialize PostgreSQL archive
	var store *archive.Store
	if cfg.Database.Postgres.DSN != "" {
		s, sErr := archive.New(cfg.Database.Postgres.DSN, logger)
		if sErr != nil {
			logger.Warn("PostgreSQL unavailable, running without archive", zap.Error(sErr))
		} else {
			if mErr := s.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			coordinator.SetArchiver(s)
			store = s
		}
	}

	// Build HTTP handler
	handler := api.NewHandler(coordinator, selector, logger)

	// Start server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Arbiter listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Arbiter...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	coordinator.Cleanup(ctx, 0)
	if mirror != nil {
		mirror.Close()
	}
	if store != nil {
		store.Close()
	}
}
