package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/pipeline"
)

var (
	batchFile    string
	batchOut     string
	batchUserID  string
	batchCatalog string
)

// batchLine is one JSON line of batch output.
type batchLine struct {
	Query      string   `json:"query"`
	Outcome    string   `json:"outcome"`
	Categories []string `json:"categories,omitempty"`
	Products   []string `json:"products,omitempty"`
	LatencyMs  int64    `json:"latency_ms"`
	Error      string   `json:"error,omitempty"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every query in a file and write JSON lines",
	Example: `  commerce-rag batch --file queries.txt --out results.jsonl
  commerce-rag batch --file queries.txt --catalog products.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		queries, err := readQueries(batchFile)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			return fmt.Errorf("no queries in %s", batchFile)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, batchCatalog)
		if err != nil {
			return err
		}
		defer a.Close()

		var out io.Writer = os.Stdout
		if batchOut != "" {
			f, err := os.Create(batchOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)

		bar := ui.ProgressBar(int64(len(queries)), "Querying")
		counts := make(map[string]int)
		latencies := make([]time.Duration, 0, len(queries))
		for _, q := range queries {
			line := batchLine{Query: q}
			start := time.Now()
			res, err := a.Pipeline.Query(ctx, pipeline.Request{Query: q, UserID: batchUserID})
			elapsed := time.Since(start)
			latencies = append(latencies, elapsed)
			line.LatencyMs = elapsed.Milliseconds()

			if err != nil {
				line.Outcome = "error"
				line.Error = err.Error()
			} else {
				line.Outcome = string(res.Outcome)
				line.Categories = res.Categories
				for _, p := range res.Products {
					line.Products = append(line.Products, p.ID)
				}
			}
			counts[line.Outcome]++

			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}

		// Keep stdout pure JSON lines when results go there.
		if batchOut == "" || jsonOutput {
			return nil
		}
		p50, worst := latencyStats(latencies)
		ui.Success("Ran %d queries", len(queries))
		for _, outcome := range []string{"ok", "empty", "degraded", "error"} {
			ui.KeyValue(outcome, counts[outcome])
		}
		ui.KeyValue("p50 latency", FormatDuration(p50))
		ui.KeyValue("max latency", FormatDuration(worst))
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one query per line")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "write JSON lines here instead of stdout")
	batchCmd.Flags().StringVar(&batchUserID, "user", "", "user id applied to every query")
	batchCmd.Flags().StringVar(&batchCatalog, "catalog", "", "index this catalog before querying")
	_ = batchCmd.MarkFlagRequired("file")
}

// readQueries returns the non-blank lines of path. Lines starting with #
// are comments.
func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries: %w", err)
	}
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return queries, nil
}

func latencyStats(latencies []time.Duration) (p50, worst time.Duration) {
	if len(latencies) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], sorted[len(sorted)-1]
}
