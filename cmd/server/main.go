package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"restopos/backend/internal/alert"
	"restopos/backend/internal/config"
	"restopos/backend/internal/finance"
	"restopos/backend/internal/httpapi"
	"restopos/backend/internal/observability"
	"restopos/backend/internal/service"
	"restopos/backend/internal/store"
	"restopos/backend/internal/store/memory"
	pgstore "restopos/backend/internal/store/postgres"
)

const (
	serviceName    = "restopos-inventory"
	serviceVersion = "0.1.0"
	sweepBatch     = 100
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(startCtx, observability.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	closers := make([]func() error, 0, 3)

	repo, closeRepo, err := openRepository(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var notifier service.ReorderNotifier = alert.NewLogNotifier(logger.Named("alert"))
	if cfg.RedisAddr != "" {
		redisNotifier := alert.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ReorderChannel)
		if err := redisNotifier.Ping(startCtx); err != nil {
			logger.Warn("redis unavailable, reorder alerts go to the log", zap.Error(err))
			_ = redisNotifier.Close()
		} else {
			notifier = redisNotifier
			closers = append(closers, redisNotifier.Close)
			logger.Info("reorder alerts: redis", zap.String("channel", cfg.ReorderChannel))
		}
	}

	poster, closePoster := buildPoster(cfg)
	if closePoster != nil {
		closers = append(closers, closePoster)
	}
	logger.Info("financial poster", zap.String("kind", fmt.Sprintf("%T", poster)))

	bridge := finance.NewBridge(repo, poster, cfg.LedgerPostTimeout, logger.Named("finance"))
	svc := service.New(repo, bridge, notifier, logger.Named("service"))
	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Named("http"))

	runCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go bridge.Run(runCtx, cfg.LedgerSweepInterval, sweepBatch)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("inventory backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	stopSweep()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(format string) (*zap.Logger, error) {
	if format == "console" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openRepository picks postgres when DATABASE_URL is set. Without it the
// in-memory store is used, persisted to SNAPSHOT_PATH when configured.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, pg.Close, nil
	}

	if cfg.SnapshotPath != "" {
		mem, err := memory.Open(cfg.SnapshotPath, logger.Named("store"))
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot %s: %w", cfg.SnapshotPath, err)
		}
		logger.Info("repository: in-memory with snapshot", zap.String("path", cfg.SnapshotPath))
		return mem, nil, nil
	}

	logger.Warn("repository: in-memory, data is lost on restart")
	return memory.NewSeeded(logger.Named("store")), nil, nil
}

// buildPoster prefers Kafka, then the HTTP ledger. With neither configured
// entries stay unposted until one is.
func buildPoster(cfg config.Config) (finance.Poster, func() error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		kp := finance.NewKafkaPoster(cfg.KafkaBrokers, cfg.KafkaLedgerTopic)
		return kp, kp.Close
	case cfg.LedgerURL != "":
		return finance.NewHTTPPoster(cfg.LedgerURL, cfg.LedgerToken, cfg.LedgerPostTimeout), nil
	default:
		return finance.UnavailablePoster{}, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must not be * with a persistent database")
	}
	return nil
}
