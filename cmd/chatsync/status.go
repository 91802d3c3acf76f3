package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and, when signed in, fetch the conversation list to check the connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Base URL:        %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Fprintf(out, "  Poll interval:   %s\n", valueOrDefault(cfg.Default.PollInterval, "2s"))
		fmt.Fprintf(out, "  Request timeout: %s\n", valueOrDefault(cfg.Default.RequestTimeout, "15s"))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Auth:")
		if cfg.Auth.Guest || cfg.Auth.UserID == "" {
			fmt.Fprintln(out, "  Mode:  guest (read-only)")
			return nil
		}
		fmt.Fprintf(out, "  User:  %s (%s)\n", valueOrDefault(cfg.Auth.UserName, "(no name)"), cfg.Auth.UserID)
		if cfg.Auth.Token != "" {
			fmt.Fprintf(out, "  Token: %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Fprintln(out, "  Token: (not set)")
		}
		if cfg.Default.BaseURL == "" {
			return nil
		}

		s, _, err := newSession(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")
		if err := s.Conversations.Refresh(ctx, false); err != nil {
			fmt.Fprintf(out, "  Error fetching conversations: %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "  Conversations: %d\n", len(s.Conversations.Conversations()))
		fmt.Fprintf(out, "  Unread:        %d\n", s.Conversations.TotalUnread())
		return nil
	},
}
