package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopfront/chatsync"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations
	convsQuery string
	convsJSON  bool

	// messages
	messagesSearch string
	messagesJSON   bool

	// send
	sendImage    string
	sendImageURL string

	// clear, block
	assumeYes bool
)

func init() {
	conversationsCmd.Flags().StringVarP(&convsQuery, "query", "q", "", "Only show conversations matching the query")
	conversationsCmd.Flags().BoolVar(&convsJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().StringVarP(&messagesSearch, "search", "s", "", "Only show messages containing the text")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	sendCmd.Flags().StringVar(&sendImage, "image", "", "Path of an image to attach")
	sendCmd.Flags().StringVar(&sendImageURL, "image-url", "", "URL of an image to attach")

	clearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	blockCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, clearCmd, blockCmd)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 60*time.Second)
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs", "ls"},
	Short:   "List conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := newSession(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			return err
		}

		convs := s.Filter(convsQuery)
		if convsJSON {
			return printJSON(cmd.OutOrStdout(), convs)
		}
		if len(convs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
			return nil
		}
		for _, c := range convs {
			printConversation(cmd.OutOrStdout(), c)
		}
		return nil
	},
}

func printConversation(w io.Writer, c chatsync.Conversation) {
	status := " "
	if c.Peer.IsOnline {
		status = "*"
	}
	last := "(no messages)"
	if c.LastMessage != nil {
		last = c.LastMessage.Body
		if last == "" && c.LastMessage.HasImage() {
			last = "[image]"
		}
	}
	unread := ""
	if c.UnreadCount > 0 {
		unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
	}
	fmt.Fprintf(w, "%s %-24s %-20s%s  %s\n", status, c.Peer.ID, c.Peer.Name, unread, truncate(last, 50))
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <peer-id>",
	Short: "Show the conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := newSession(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := selectPeer(ctx, s, args[0]); err != nil {
			return err
		}

		msgs := s.Threads.Search(messagesSearch)
		if messagesJSON {
			return printJSON(cmd.OutOrStdout(), msgs)
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
			return nil
		}
		self := s.State().CurrentUserID()
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m, self)
		}
		return nil
	},
}

func printMessage(w io.Writer, m chatsync.Message, self string) {
	who := m.FromUserID
	switch {
	case m.FromUserID == self:
		who = "me"
	case m.Sender != nil:
		who = m.Sender.Name
	}
	text := m.Body
	if m.HasImage() {
		text = strings.TrimSpace(text + " [image: " + m.ImageURL + "]")
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("Jan 02 15:04"), who, text)
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> [message]",
	Short: "Send a message, optionally with an image",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := newSession(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		body := ""
		if len(args) == 2 {
			body = args[1]
		}
		var image *chatsync.ImageRef
		switch {
		case sendImage != "":
			image = &chatsync.ImageRef{Path: sendImage}
		case sendImageURL != "":
			image = &chatsync.ImageRef{URL: sendImageURL}
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := selectPeer(ctx, s, args[0]); err != nil {
			return err
		}
		msg, err := s.Send(ctx, body, image)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s at %s\n", msg.ToUserID, msg.CreatedAt.Local().Format(time.Kitchen))
		return nil
	},
}

// ============================================================================
// clear / block
// ============================================================================

// promptConfirmer asks on the command's stdin unless --yes was given.
func promptConfirmer(cmd *cobra.Command) chatsync.Confirmer {
	return func(_ context.Context, action, peerID string) bool {
		if assumeYes {
			return true
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Really %s with %s? [y/N] ", action, peerID)
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

var clearCmd = &cobra.Command{
	Use:   "clear <peer-id>",
	Short: "Delete every message of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := newSession(nil, chatsync.WithConfirmer(promptConfirmer(cmd)))
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := selectPeer(ctx, s, args[0]); err != nil {
			return err
		}
		res, err := s.ClearChat(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages", len(res.Deleted))
		if len(res.Failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", len(res.Failed))
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <peer-id>",
	Short: "Block a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := newSession(nil, chatsync.WithConfirmer(promptConfirmer(cmd)))
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := s.BlockUser(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s\n", args[0])
		return nil
	},
}

// ============================================================================
// Output helpers
// ============================================================================

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
