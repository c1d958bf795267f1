package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/storm-forecast-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/storm-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/storm-forecast-service/internal/adapter/mapbox"
	"github.com/couchcryptid/storm-forecast-service/internal/config"
	"github.com/couchcryptid/storm-forecast-service/internal/domain"
	"github.com/couchcryptid/storm-forecast-service/internal/observability"
	"github.com/couchcryptid/storm-forecast-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	predictor, err := domain.NewPredictor(cfg.Calibration)
	if err != nil {
		logger.Error("invalid calibration", "error", err, "file", cfg.CalibrationFile)
		os.Exit(1)
	}
	logger.Info("calibration loaded",
		"file", cfg.CalibrationFile,
		"threshold", cfg.Calibration.Similarity.Threshold,
		"offsets", cfg.Calibration.Trajectory.Offsets,
		"issue_dates", len(cfg.Calibration.IssueDates),
	)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	// The limiter sits under the cache so hits never wait for a token.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		limited := mapbox.NewRateLimitedGeocoder(client, cfg.MapboxRateLimit, cfg.MapboxBurst)
		geocoder = mapbox.NewCachedGeocoder(limited, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled",
			"cache_size", cfg.MapboxCacheSize,
			"timeout", cfg.MapboxTimeout,
			"rate_limit", cfg.MapboxRateLimit,
			"burst", cfg.MapboxBurst,
		)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(predictor, geocoder, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start forecast pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
