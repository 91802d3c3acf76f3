package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopfront/chatsync"
)

func TestSetConfigValue(t *testing.T) {
	cases := []struct {
		key, value string
		wantErr    bool
		check      func(*Config) bool
	}{
		{"default.base_url", "https://shop.example.com", false, func(c *Config) bool { return c.Default.BaseURL == "https://shop.example.com" }},
		{"default.poll_interval", "5s", false, func(c *Config) bool { return c.Default.PollInterval == "5s" }},
		{"default.poll_interval", "soon", true, nil},
		{"default.rate_limit", "2.5", false, func(c *Config) bool { return c.Default.RateLimit == 2.5 }},
		{"auth.guest", "true", false, func(c *Config) bool { return c.Auth.Guest }},
		{"auth.guest", "maybe", true, nil},
		{"auth.nope", "x", true, nil},
		{"nosection", "x", true, nil},
		{"other.base_url", "x", true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tc.key, tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.check(cfg) {
				t.Fatalf("value not applied: %+v", cfg)
			}
		})
	}
}

func TestConfigRoundTripWithEnvOverride(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG_DIR", t.TempDir())
	t.Setenv("CHATSYNC_TOKEN", "")

	cfg := &Config{
		Default: ConfigDefault{BaseURL: "https://a.example.com", PollInterval: "3s"},
		Auth:    ConfigAuth{Token: "tok", UserID: "u1", UserName: "Ann"},
	}
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("CHATSYNC_BASE_URL", "https://b.example.com")
	got, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Default.BaseURL != "https://b.example.com" {
		t.Fatalf("env override not applied: %q", got.Default.BaseURL)
	}
	if got.Default.PollInterval != "3s" || got.Auth.UserID != "u1" || got.Auth.Token != "tok" {
		t.Fatalf("file values lost: %+v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG_DIR", t.TempDir())
	t.Setenv("CHATSYNC_BASE_URL", "")
	t.Setenv("CHATSYNC_TOKEN", "")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Default.BaseURL != "" || cfg.Auth.Token != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, o := range envOverrides {
		t.Setenv(o.env, "")
	}
}

func TestConfigShowIsEffective(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG_DIR", t.TempDir())
	clearEnvOverrides(t)
	if err := saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "https://a.example.com"},
		Auth:    ConfigAuth{Token: "tok-abcdefghijkl", UserID: "u1"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Setenv("CHATSYNC_BASE_URL", "https://b.example.com")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "show"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `base_url = "https://b.example.com"  # from CHATSYNC_BASE_URL`) {
		t.Fatalf("override not shown:\n%s", out)
	}
	if strings.Contains(out, "tok-abcdefghijkl") || !strings.Contains(out, `token = "tok-ab...ijkl"`) {
		t.Fatalf("token not masked:\n%s", out)
	}
	if !strings.Contains(out, `poll_interval = "2s"`) {
		t.Fatalf("default poll interval not shown:\n%s", out)
	}
}

func TestConfigSetKeepsEnvOutOfFile(t *testing.T) {
	t.Setenv("CHATSYNC_CONFIG_DIR", t.TempDir())
	clearEnvOverrides(t)
	if err := saveConfig(&Config{Default: ConfigDefault{BaseURL: "https://a.example.com"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Setenv("CHATSYNC_BASE_URL", "https://b.example.com")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "set", "default.poll_interval", "5s"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config set: %v", err)
	}

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Default.BaseURL != "https://a.example.com" || cfg.Default.PollInterval != "5s" {
		t.Fatalf("stored config = %+v", cfg.Default)
	}
}

func TestDuration(t *testing.T) {
	if got := duration("", 2*time.Second); got != 2*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := duration("500ms", 2*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	if got := duration("-1s", 2*time.Second); got != 2*time.Second {
		t.Fatalf("negative should fall back, got %v", got)
	}
}

func TestWatcherPrintsEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	w := &watcher{out: &buf, self: "me", seen: map[string]bool{}}
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	w.messages("", []chatsync.Message{{ID: "m1", FromUserID: "p", Body: "hi", CreatedAt: at}})
	w.messages("", []chatsync.Message{
		{ID: "m1", FromUserID: "p", Body: "hi", CreatedAt: at},
		{ID: "local-1", FromUserID: "me", Body: "pending", CreatedAt: at, Pending: true},
		{ID: "m2", FromUserID: "me", Body: "hello back", CreatedAt: at},
	})

	out := buf.String()
	if strings.Count(out, "hi\n") != 1 {
		t.Fatalf("m1 printed more than once:\n%s", out)
	}
	if strings.Contains(out, "pending") {
		t.Fatalf("optimistic message printed:\n%s", out)
	}
	if !strings.Contains(out, "me: hello back") {
		t.Fatalf("own message not attributed:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("a long line\nof text", 10); got != "a long ..." {
		t.Fatalf("got %q", got)
	}
}
