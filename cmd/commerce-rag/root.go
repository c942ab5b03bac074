package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/app"
	"github.com/spherical-ai/commerce-rag/internal/config"
	"github.com/spherical-ai/commerce-rag/internal/indexing"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "commerce-rag",
	Short: "Product recommendation retrieval and ranking",
	Long: `commerce-rag indexes a product catalog into a vector index and answers
natural-language shopping queries with ranked, explainable recommendations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Logs go to stderr so stdout stays parseable.
		level := "warn"
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      "console",
			Output:      os.Stderr,
			ServiceName: cfg.Observability.OTEL.ServiceName,
		})
		ui = NewUI(jsonOutput, noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(indexCmd, queryCmd, batchCmd, feedbackCmd, profileCmd, serveCmd)
}

// openApp wires the application and, when catalogPath is set, indexes it
// first. A memory vector index only lives as long as the process.
func openApp(ctx context.Context, catalogPath string) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if catalogPath == "" {
		return a, nil
	}

	stop := ui.Spinner("Indexing " + catalogPath)
	stats, err := a.IndexCatalog(ctx, catalogPath, indexing.Options{Full: true})
	stop()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("index catalog: %w", err)
	}
	ui.Info("Indexed %d products (%d chunks)", stats.Products, stats.Chunks)
	return a, nil
}
