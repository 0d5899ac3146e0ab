package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fanlink-client/internal/api"
)

func init() {
	creatorsCmd.Flags().String("category", "", "filter by category")
	creatorsCmd.Flags().String("search", "", "filter by name or bio")

	tipCmd.Flags().Float64("amount", 0, "tip amount, minimum 1.00")
	tipCmd.Flags().String("message", "", "optional note for the creator")
	_ = tipCmd.MarkFlagRequired("amount")

	subscribeCmd.Flags().String("plan", "basic", "subscription plan: basic, premium, vip")

	contentCmd.Flags().String("creator", "", "only content from this creator")

	rootCmd.AddCommand(creatorsCmd, creatorCmd, contentCmd, subscribeCmd, tipCmd)
}

var creatorsCmd = &cobra.Command{
	Use:   "creators",
	Short: "Browse the creators directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		filter := api.CreatorFilter{}
		filter.Category, _ = cmd.Flags().GetString("category")
		filter.Search, _ = cmd.Flags().GetString("search")

		creators, err := app.api.ListCreators(cmd.Context(), filter)
		if err != nil {
			return err
		}
		for _, c := range creators {
			verified := ""
			if c.IsVerified {
				verified = " *"
			}
			fmt.Printf("%s  %s%s  [%s]  $%.2f/mo  %d followers\n",
				c.ID, c.DisplayName, verified, c.Category, c.SubscriptionPrice, c.FollowerCount)
		}
		return nil
	},
}

var creatorCmd = &cobra.Command{
	Use:   "creator <creator-id>",
	Short: "Show one creator profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		c, err := app.api.GetCreator(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s]\n", c.DisplayName, c.Category)
		if c.Bio != "" {
			fmt.Println(c.Bio)
		}
		fmt.Printf("subscription $%.2f/mo, %d followers, %d posts\n",
			c.SubscriptionPrice, c.FollowerCount, c.ContentCount)
		return nil
	},
}

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Browse the content feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		creatorID, _ := cmd.Flags().GetString("creator")
		items, err := app.api.ListContent(cmd.Context(), creatorID)
		if err != nil {
			return err
		}
		for _, item := range items {
			tag := "free"
			switch {
			case item.IsPPV && item.PPVPrice != nil:
				tag = fmt.Sprintf("ppv $%.2f", *item.PPVPrice)
			case item.IsPremium:
				tag = "premium"
			}
			fmt.Printf("%s  %s  [%s] (%s)\n", item.ID, item.Title, item.Type, tag)
		}
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <creator-id>",
	Short: "Start a subscription checkout for a creator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		plan, _ := cmd.Flags().GetString("plan")
		checkout, err := app.api.SubscribeCheckout(cmd.Context(), args[0], plan)
		if err != nil {
			return err
		}
		fmt.Printf("complete the checkout at: %s\n", checkout.URL)
		return nil
	},
}

var tipCmd = &cobra.Command{
	Use:   "tip <creator-id>",
	Short: "Start a tip checkout for a creator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()
		if _, err := app.mustLogin(); err != nil {
			return err
		}

		amount, _ := cmd.Flags().GetFloat64("amount")
		note, _ := cmd.Flags().GetString("message")
		checkout, err := app.api.TipCheckout(cmd.Context(), args[0], amount, note)
		if err != nil {
			return err
		}
		fmt.Printf("complete the checkout at: %s\n", checkout.URL)
		return nil
	},
}
