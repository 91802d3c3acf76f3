package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync configuration stored in ~/.chatsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the configuration chatsync will use: the config file with CHATSYNC_* environment overrides applied. Overridden keys are marked; the token is masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		overrides, err := applyEnv(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(out, "# %s does not exist; run 'chatsync init <base-url>' to create it\n", path)
		} else {
			fmt.Fprintf(out, "# %s\n", path)
		}
		writeEffectiveConfig(out, cfg, overrides)
		return nil
	},
}

// writeEffectiveConfig prints cfg in TOML layout. Keys present in overrides
// are annotated with the environment variable that set them.
func writeEffectiveConfig(w io.Writer, cfg *Config, overrides map[string]string) {
	line := func(key, field, value string) {
		if env, ok := overrides[key]; ok {
			fmt.Fprintf(w, "%s = %s  # from %s\n", field, value, env)
			return
		}
		fmt.Fprintf(w, "%s = %s\n", field, value)
	}

	fmt.Fprintln(w, "[default]")
	line("default.base_url", "base_url", strconv.Quote(cfg.Default.BaseURL))
	line("default.poll_interval", "poll_interval", strconv.Quote(valueOrDefault(cfg.Default.PollInterval, "2s")))
	line("default.request_timeout", "request_timeout", strconv.Quote(valueOrDefault(cfg.Default.RequestTimeout, "15s")))
	line("default.rate_limit", "rate_limit", strconv.FormatFloat(cfg.Default.RateLimit, 'g', -1, 64))

	fmt.Fprintln(w, "\n[auth]")
	token := ""
	if cfg.Auth.Token != "" {
		token = maskKey(cfg.Auth.Token)
	}
	line("auth.token", "token", strconv.Quote(token))
	line("auth.user_id", "user_id", strconv.Quote(cfg.Auth.UserID))
	line("auth.user_name", "user_name", strconv.Quote(cfg.Auth.UserName))
	line("auth.guest", "guest", strconv.FormatBool(cfg.Auth.Guest))
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatsync config set default.poll_interval 5s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := readConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}
