package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopfront/chatsync"
)

// newSession builds a client and session from the stored configuration. Guest
// sessions are returned as such; commands that need a user fail on first use.
func newSession(reg prometheus.Registerer, extra ...chatsync.Option) (*chatsync.Session, *Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.BaseURL == "" {
		return nil, nil, errors.New("no base url configured; run 'chatsync init <base-url>' first")
	}

	log := newLogger()
	timeout := duration(cfg.Default.RequestTimeout, chatsync.DefaultRequestTimeout)

	copts := []chatsync.ClientOption{
		chatsync.WithTimeout(timeout),
		chatsync.WithClientLogger(log),
	}
	if cfg.Auth.Token != "" {
		copts = append(copts, chatsync.WithToken(cfg.Auth.Token))
	}
	if cfg.Default.RateLimit > 0 {
		copts = append(copts, chatsync.WithRateLimit(cfg.Default.RateLimit, int(cfg.Default.RateLimit)+1))
	}
	client := chatsync.NewClient(cfg.Default.BaseURL, copts...)

	userID := cfg.Auth.UserID
	if cfg.Auth.Guest {
		userID = ""
	}
	opts := []chatsync.Option{
		chatsync.WithLogger(log),
		chatsync.WithRequestTimeout(timeout),
		chatsync.WithPollInterval(duration(cfg.Default.PollInterval, chatsync.DefaultPollInterval)),
		chatsync.WithMetrics(chatsync.NewMetrics(reg)),
	}
	opts = append(opts, extra...)
	return chatsync.NewSession(client, client, userID, opts...), cfg, nil
}

// selectPeer loads the conversation list and opens the thread with peerID.
func selectPeer(ctx context.Context, s *chatsync.Session, peerID string) error {
	if err := s.Conversations.Refresh(ctx, false); err != nil {
		return err
	}
	return s.SelectConversation(ctx, peerID)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
