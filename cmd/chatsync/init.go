package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store the shop URL in ~/.chatsync/config.toml",
	Long:  "Initialize chatsync by storing the storefront base URL in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base url %q", args[0])
		}

		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.BaseURL = args[0]
		if cfg.Default.PollInterval == "" {
			cfg.Default.PollInterval = "2s"
		}
		if cfg.Default.RequestTimeout == "" {
			cfg.Default.RequestTimeout = "15s"
		}
		if !cfg.Auth.Guest && cfg.Auth.Token == "" {
			cfg.Auth.Guest = true
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Base URL saved to %s\n", path)
		return nil
	},
}
