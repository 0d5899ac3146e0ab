package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fanlink-client/internal/api"
)

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("username", "", "unique handle")
	registerCmd.Flags().String("display-name", "", "public display name")
	registerCmd.Flags().String("password", "", "account password")
	registerCmd.Flags().Bool("creator", false, "register as a creator account")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("username")
	_ = registerCmd.MarkFlagRequired("display-name")
	_ = registerCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd, registerCmd, whoamiCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print the bearer token for later commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		res, err := app.api.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s (%s)\n", res.Identity.DisplayName, res.Identity.Username)
		fmt.Printf("token: %s\n", res.Token)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and print its bearer token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		req := api.RegisterRequest{}
		req.Email, _ = cmd.Flags().GetString("email")
		req.Username, _ = cmd.Flags().GetString("username")
		req.DisplayName, _ = cmd.Flags().GetString("display-name")
		req.Password, _ = cmd.Flags().GetString("password")
		req.IsCreator, _ = cmd.Flags().GetBool("creator")

		res, err := app.api.Register(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", res.Identity.DisplayName, res.Identity.Username)
		fmt.Printf("token: %s\n", res.Token)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind the configured token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		id, err := app.mustLogin()
		if err != nil {
			return err
		}
		role := "fan"
		if id.IsCreator {
			role = "creator"
		}
		fmt.Printf("%s (%s) [%s] id=%s\n", id.DisplayName, id.Username, role, id.ID)
		return nil
	},
}
