package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/pipeline"
)

var (
	queryUserID  string
	queryTopK    int
	queryBrands  []string
	queryCatalog string
	queryContext bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Ask for product recommendations",
	Example: `  commerce-rag query "wireless headphones under $200"
  commerce-rag query "compare laptops for students" --user u42 --top-k 5
  commerce-rag query "budget phone" --catalog products.json --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, queryCatalog)
		if err != nil {
			return err
		}
		defer a.Close()

		stop := ui.Spinner("Searching")
		res, err := a.Pipeline.Query(ctx, pipeline.Request{
			Query:  strings.Join(args, " "),
			UserID: queryUserID,
			TopK:   queryTopK,
			Brands: queryBrands,
		})
		stop()
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printResult(res, queryContext)
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryUserID, "user", "", "user id whose profile personalizes ranking")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of products to return (default from config)")
	queryCmd.Flags().StringSliceVar(&queryBrands, "brand", nil, "restrict to these brands")
	queryCmd.Flags().StringVar(&queryCatalog, "catalog", "", "index this catalog before querying")
	queryCmd.Flags().BoolVar(&queryContext, "show-context", false, "print the assembled generation context")
}

func printResult(res *pipeline.Result, showContext bool) {
	ui.Section("Query")
	ui.KeyValue("Text", res.Query)
	if len(res.Categories) > 0 {
		ui.KeyValue("Categories", strings.Join(res.Categories, ", "))
	}
	if res.Intent.PriceCeiling != nil {
		ui.KeyValue("Budget", fmt.Sprintf("$%.2f", *res.Intent.PriceCeiling))
	}
	if len(res.Intent.FeatureKeywords) > 0 {
		ui.KeyValue("Features", strings.Join(res.Intent.FeatureKeywords, ", "))
	}
	ui.KeyValue("Latency", FormatDuration(res.Latency))

	if res.Outcome == pipeline.OutcomeEmpty {
		ui.Warning("No matching products")
		return
	}

	ui.Section("Recommendations")
	bold := color.New(color.Bold)
	for i, c := range res.Candidates {
		name := c.ProductName
		if !noColor {
			name = bold.Sprint(name)
		}
		ui.Line("%2d. %s (%s, %s) $%.2f  rating %.1f", i+1, name, c.Brand, c.Category, c.Price, c.Rating)
		ui.Line("    score %.3f  sim %.2f  sent %.2f  pref %.2f  intent %.2f",
			c.Aggregate, c.Scores.Similarity, c.Scores.Sentiment, c.Scores.Preference, c.Scores.IntentBonus)
	}

	if res.Generated != nil {
		ui.Section("Summary")
		ui.Line("%s", res.Generated.Summary)
	}
	for _, w := range res.Warnings {
		ui.Warning("%s", w)
	}

	if showContext && res.Context.Text != "" {
		ui.Section("Context")
		ui.Line("%s", res.Context.Text)
		if res.Context.Truncated {
			ui.Info("Context truncated to fit the character budget")
		}
	}
}
