package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

var (
	fbUserID   string
	fbProduct  string
	fbAction   string
	fbCategory string
	fbBrand    string
	fbPrice    float64
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record a user interaction (view, like, dislike)",
	Example: `  commerce-rag feedback --user u42 --product p-100 --action like --category Laptops --brand Zenbyte --price 899`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, "")
		if err != nil {
			return err
		}
		defer a.Close()

		prof, err := a.Pipeline.RecordFeedback(ctx, fbUserID, domain.Interaction{
			ProductID: fbProduct,
			Action:    domain.Action(strings.ToLower(fbAction)),
			Category:  fbCategory,
			Brand:     fbBrand,
			Price:     fbPrice,
		})
		if err != nil {
			return err
		}

		ui.Success("Recorded %s of %s for %s", fbAction, fbProduct, fbUserID)
		return printProfile(prof)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Show a user's preference profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, "")
		if err != nil {
			return err
		}
		defer a.Close()

		prof, err := a.Pipeline.Profile(ctx, args[0])
		if err != nil {
			return err
		}
		return printProfile(prof)
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&fbUserID, "user", "", "user id")
	feedbackCmd.Flags().StringVar(&fbProduct, "product", "", "product id")
	feedbackCmd.Flags().StringVar(&fbAction, "action", "", "view, like or dislike")
	feedbackCmd.Flags().StringVar(&fbCategory, "category", "", "product category")
	feedbackCmd.Flags().StringVar(&fbBrand, "brand", "", "product brand")
	feedbackCmd.Flags().Float64Var(&fbPrice, "price", 0, "product price")
	_ = feedbackCmd.MarkFlagRequired("user")
	_ = feedbackCmd.MarkFlagRequired("product")
	_ = feedbackCmd.MarkFlagRequired("action")
}

func printProfile(p *domain.UserProfile) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	ui.Section("Profile " + p.UserID)
	ui.KeyValue("Categories", strings.Join(p.PreferredCategories, ", "))
	ui.KeyValue("Brands", strings.Join(p.PreferredBrands, ", "))
	if p.MaxPrice != nil {
		ui.KeyValue("Max price", fmt.Sprintf("$%.2f", *p.MaxPrice))
	}
	ui.KeyValue("Interactions", len(p.History))
	return nil
}
