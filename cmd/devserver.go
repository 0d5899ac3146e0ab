package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fanlink-client/internal/backendtest"
	"fanlink-client/internal/models"
)

func init() {
	devserverCmd.Flags().String("addr", ":"+getEnv("PORT", "8083"), "listen address")
	devserverCmd.Flags().Bool("seed", true, "seed demo accounts and creators")
	rootCmd.AddCommand(devserverCmd)
}

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory fake backend for local development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := backendtest.New()

		if seed, _ := cmd.Flags().GetBool("seed"); seed {
			seedDemo(srv)
		}

		addr, _ := cmd.Flags().GetString("addr")
		fmt.Printf("fake backend listening on %s\n", addr)
		return srv.Run(addr)
	},
}

func seedDemo(srv *backendtest.Server) {
	creator := models.Identity{
		ID:          "creator-1",
		Username:    "luna",
		DisplayName: "Luna",
		IsCreator:   true,
	}
	fan := models.Identity{
		ID:          "fan-1",
		Username:    "sam",
		DisplayName: "Sam",
	}
	creatorToken := srv.AddAccount(creator, "luna@example.com", "password")
	fanToken := srv.AddAccount(fan, "sam@example.com", "password")

	srv.SeedCreator(models.Creator{
		ID:                "creator-profile-1",
		UserID:            creator.ID,
		DisplayName:       creator.DisplayName,
		Bio:               "Daily sketches and process videos.",
		Category:          "art",
		SubscriptionPrice: 9.99,
		FollowerCount:     128,
		ContentCount:      42,
		IsVerified:        true,
	})

	fmt.Printf("seeded accounts:\n")
	fmt.Printf("  luna@example.com / password  token=%s\n", creatorToken)
	fmt.Printf("  sam@example.com / password   token=%s\n", fanToken)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
