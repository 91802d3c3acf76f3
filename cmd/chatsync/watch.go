package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopfront/chatsync"
	"github.com/spf13/cobra"
)

var watchMetricsAddr string

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [peer-id]",
	Short: "Poll for new conversations and messages until interrupted",
	Long:  "Poll the conversation list and, if a peer is given, its thread. New messages are printed as they arrive.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())

		s, _, err := newSession(reg)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchMetricsAddr != "" {
			srv := &http.Server{
				Addr:              watchMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
				}
			}()
			defer srv.Close()
		}

		w := &watcher{out: cmd.OutOrStdout(), self: s.State().CurrentUserID(), seen: map[string]bool{}}
		s.On(chatsync.EventConversationsUpdated, w.conversations)
		s.On(chatsync.EventMessagesUpdated, w.messages)
		s.On(chatsync.EventError, func(_ string, p any) {
			fmt.Fprintf(cmd.ErrOrStderr(), "sync error: %v\n", p)
		})

		if err := s.Refresh(ctx); err != nil && !errors.Is(err, chatsync.ErrNetwork) {
			return err
		}
		if len(args) == 1 {
			if err := s.SelectConversation(ctx, args[0]); err != nil {
				return err
			}
		}
		if err := s.StartPolling(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Watching, press Ctrl-C to stop.")

		<-ctx.Done()
		s.StopPolling()
		return nil
	},
}

// watcher prints conversation changes and messages it has not seen yet.
type watcher struct {
	out  io.Writer
	self string

	mu     sync.Mutex
	seen   map[string]bool
	unread map[string]int
}

func (w *watcher) conversations(_ string, payload any) {
	convs, _ := payload.([]chatsync.Conversation)
	w.mu.Lock()
	defer w.mu.Unlock()
	next := make(map[string]int, len(convs))
	for _, c := range convs {
		next[c.Peer.ID] = c.UnreadCount
		if c.UnreadCount > 0 && c.UnreadCount != w.unread[c.Peer.ID] {
			printConversation(w.out, c)
		}
	}
	w.unread = next
}

func (w *watcher) messages(_ string, payload any) {
	msgs, _ := payload.([]chatsync.Message)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range msgs {
		if m.Pending || w.seen[m.ID] {
			continue
		}
		w.seen[m.ID] = true
		printMessage(w.out, m, w.self)
	}
}

