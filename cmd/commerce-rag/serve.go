package main

import (
	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/api"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

var (
	servePort    int
	serveCatalog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		// The server logs through the configured format, not the CLI console.
		srvLogger := observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.OTEL.ServiceName,
		})
		logger = srvLogger

		if cfg.Observability.OTEL.Enabled {
			shutdown, err := observability.InitTracer(ctx, cfg.Observability.OTEL.Endpoint, cfg.Observability.OTEL.ServiceName)
			if err != nil {
				ui.Warning("Tracing disabled: %v", err)
			} else {
				defer shutdown(ctx)
			}
		}

		a, err := openApp(ctx, serveCatalog)
		if err != nil {
			return err
		}
		defer a.Close()

		router := api.NewRouter(srvLogger, api.Services{
			Recommender: a.Pipeline,
			Profiles:    a.Pipeline,
			Ready:       a.Ready,
		}, api.Config{
			ServiceName:    cfg.Observability.OTEL.ServiceName,
			RequestTimeout: cfg.Server.RequestTimeout,
		})
		return api.Run(ctx, router, cfg.Server, srvLogger)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "index this catalog at startup")
}
