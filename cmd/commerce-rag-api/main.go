// Package main provides the recommendation API server entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spherical-ai/commerce-rag/internal/api"
	"github.com/spherical-ai/commerce-rag/internal/app"
	"github.com/spherical-ai/commerce-rag/internal/config"
	"github.com/spherical-ai/commerce-rag/internal/indexing"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.OTEL.ServiceName,
	})

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	if cfg.Observability.OTEL.Enabled {
		shutdownTracer, err := observability.InitTracer(ctx, cfg.Observability.OTEL.Endpoint, cfg.Observability.OTEL.ServiceName)
		if err != nil {
			logger.Warn().Err(err).Msg("Tracing disabled")
		} else {
			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.Warn().Err(err).Msg("Tracer shutdown failed")
				}
			}()
		}
	}

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("vector", cfg.Vector.Adapter).
		Msg("Starting commerce-rag API")

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Close()

	// A memory index starts empty, so a catalog can be loaded at boot.
	if path := os.Getenv("CATALOG_PATH"); path != "" {
		stats, err := application.IndexCatalog(ctx, path, indexing.Options{Full: true})
		if err != nil {
			return fmt.Errorf("index catalog %s: %w", path, err)
		}
		logger.Info().
			Int("products", stats.Products).
			Int("chunks", stats.Chunks).
			Int64("index_size", stats.IndexSize).
			Msg("Catalog indexed")
	}

	router := api.NewRouter(logger, api.Services{
		Recommender: application.Pipeline,
		Profiles:    application.Pipeline,
		Ready:       application.Ready,
	}, api.Config{
		ServiceName:    cfg.Observability.OTEL.ServiceName,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	return api.Run(ctx, router, cfg.Server, logger)
}
