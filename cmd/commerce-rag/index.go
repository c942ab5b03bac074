package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/indexing"
)

var (
	indexCatalogPath string
	indexFull        bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Chunk, embed and upsert a product catalog",
	Example: `  commerce-rag index --catalog products.json
  commerce-rag index --catalog products.json --full`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, "")
		if err != nil {
			return err
		}
		defer a.Close()

		bars := ui.NewStageBars()
		stats, err := a.IndexCatalog(ctx, indexCatalogPath, indexing.Options{
			Full:     indexFull,
			Progress: bars.Update,
		})
		bars.Close()
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}

		ui.Success("Catalog indexed in %s", FormatDuration(stats.Duration))
		ui.KeyValue("Products", stats.Products)
		ui.KeyValue("Chunks", stats.Chunks)
		ui.KeyValue("Skipped empty chunks", stats.EmptyChunks)
		ui.KeyValue("Vectors upserted", stats.Upserted)
		ui.KeyValue("Index size", stats.IndexSize)
		ui.KeyValue("Embedding dimension", stats.EmbeddingsDim)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexCatalogPath, "catalog", "", "path to the catalog JSON file")
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "drop the whole index before indexing")
	_ = indexCmd.MarkFlagRequired("catalog")
}
