package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginUserID   string
	loginUserName string
)

func init() {
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "Id of the signed-in user (required)")
	loginCmd.Flags().StringVar(&loginUserName, "name", "", "Display name of the signed-in user")
	_ = loginCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an access token and leave guest mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{
			Token:    args[0],
			UserID:   loginUserID,
			UserName: loginUserName,
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", valueOrDefault(loginUserName, loginUserID))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token and switch to guest mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{Guest: true}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}
