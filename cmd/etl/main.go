package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/warehouse-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/warehouse-etl/internal/adapter/kafka"
	"github.com/couchcryptid/warehouse-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/warehouse-etl/internal/adapter/postgres"
	"github.com/couchcryptid/warehouse-etl/internal/adapter/quality"
	"github.com/couchcryptid/warehouse-etl/internal/adapter/wikipedia"
	"github.com/couchcryptid/warehouse-etl/internal/config"
	"github.com/couchcryptid/warehouse-etl/internal/observability"
	"github.com/couchcryptid/warehouse-etl/internal/pipeline"
	"github.com/couchcryptid/warehouse-etl/internal/seed"
)

func main() {
	serve := flag.Bool("serve", false, "serve /healthz, /readyz, /metrics and POST /runs instead of running once")
	flag.Parse()

	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	seeds, err := seed.Load(cfg.SeedFile)
	if err != nil {
		logger.Error("failed to load seed file", "path", cfg.SeedFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate warehouse schema", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	deps := pipeline.Deps{
		Store:   store,
		Weather: openmeteo.NewClient(cfg.OpenMeteoURL, cfg.ForecastDays, clock, logger),
		Pages:   wikipedia.NewClient(cfg.WikipediaURLTemplate, logger),
		Oracle:  quality.NewHTTPOracle(cfg.QualityOracleURL, cfg.QualityTimeout),
		Clock:   clock,
		Logger:  logger,
		Metrics: metrics,
	}

	// Run report publishing is feature-flagged via KAFKA_RUN_TOPIC.
	if cfg.PublishRuns() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		deps.Publisher = writer
		logger.Info("run report publishing enabled", "topic", cfg.KafkaRunTopic)
	}

	p := pipeline.New(deps, pipeline.NewOptions(cfg, seeds))

	if *serve {
		runServer(ctx, cfg, p, store, logger)
		return
	}

	report, err := p.RunOnce(ctx)
	if err != nil {
		logger.Error("pipeline run error", "error", err)
		os.Exit(1)
	}
	if report.Failed() {
		os.Exit(1)
	}
}

// runServer serves the trigger and health endpoints until ctx is cancelled.
// Triggered runs share ctx, so shutdown cancels an in-flight run and waits
// for it to record its report.
func runServer(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, runs httpadapter.RunLog, logger *slog.Logger) {
	srv := httpadapter.NewServer(ctx, cfg.HTTPAddr, p, runs, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	p.Wait()

	logger.Info("shutdown complete")
}
