// Package chatsync keeps a storefront client's conversations and the open
// message thread in sync with a chat backend that has no push channel.
//
// A Session is created per chat surface. It polls the backend on a fixed
// interval, applies optimistic sends, uploads image attachments, propagates
// read receipts and gates every mutation behind an authenticated user.
//
// Example:
//
//	client := chatsync.NewClient("https://shop.example.com", chatsync.WithToken(token))
//	s := chatsync.NewSession(client, client, userID)
//	defer s.Close()
//
//	s.On(chatsync.EventMessagesUpdated, func(_ string, p any) { render(p.([]chatsync.Message)) })
//	_ = s.StartPolling()
//	_ = s.SelectConversation(ctx, peerID)
//	_, _ = s.Send(ctx, "Hello!", nil)
package chatsync

import (
	"context"
	"errors"
	"sync"
)

// ErrDeclined is returned when a Confirmer rejects a destructive action.
var ErrDeclined = errors.New("chatsync: action not confirmed")

// Session is the presentation-facing facade of one chat surface. All writes to
// store state go through the stores' refresh path, whether triggered by a
// command or by the scheduler.
type Session struct {
	Conversations *ConversationStore
	Threads       *MessageThreadStore
	Scheduler     *Scheduler
	Sender        *SendPipeline

	gw     ChatGateway
	state  *State
	cfg    settings
	events *emitter

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewSession wires stores, scheduler and send pipeline around the injected
// gateways. An empty userID starts the session in guest mode.
func NewSession(gw ChatGateway, media MediaGateway, userID string, opts ...Option) *Session {
	cfg := newSettings(opts)
	state := NewState(userID, false)
	events := newEmitter(cfg.log)

	convs := &ConversationStore{gw: gw, state: state, cfg: cfg, events: events}
	threads := &MessageThreadStore{gw: gw, cfg: cfg, events: events, onRead: convs.ApplyRead}
	s := &Session{
		Conversations: convs,
		Threads:       threads,
		Scheduler:     &Scheduler{state: state, convs: convs, threads: threads, cfg: cfg, events: events},
		Sender: &SendPipeline{
			gw: gw, media: media, state: state,
			convs: convs, threads: threads,
			cfg: cfg, events: events,
		},
		gw:     gw,
		state:  state,
		cfg:    cfg,
		events: events,
	}
	return s
}

// State returns the shared session state.
func (s *Session) State() *State { return s.state }

// On subscribes handler to a session event.
func (s *Session) On(event string, handler EventHandler) {
	s.events.On(event, handler)
}

// Snapshot returns the current presentation state.
func (s *Session) Snapshot() Snapshot {
	lastErr := s.Threads.Err()
	if lastErr == nil {
		lastErr = s.Conversations.Err()
	}
	return Snapshot{
		Conversations:        s.Conversations.Conversations(),
		Messages:             s.Threads.Messages(),
		LoadingConversations: s.Conversations.Loading(),
		LoadingMessages:      s.Threads.Loading(),
		LastError:            lastErr,
		SelectedID:           s.state.SelectedID(),
		CurrentUserID:        s.state.CurrentUserID(),
		IsGuest:              s.state.IsGuest(),
		Polling:              s.Scheduler.State() == SchedulerRunning,
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// StartPolling starts the scheduler. Guests cannot poll.
func (s *Session) StartPolling() error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.Scheduler.Start()
}

// StopPolling stops the scheduler; it is safe to call repeatedly.
func (s *Session) StopPolling() {
	s.Scheduler.Stop()
}

// SetUser signs userID in and leaves guest mode. Polling is not started
// automatically.
func (s *Session) SetUser(userID string) {
	if userID == "" {
		s.EnterGuestMode()
		return
	}
	s.state.setUser(userID)
}

// EnterGuestMode stops polling and makes the session read-only.
func (s *Session) EnterGuestMode() {
	s.Scheduler.Stop()
	s.state.setGuest()
}

// SignOut stops polling and drops all local state.
func (s *Session) SignOut() {
	s.Scheduler.Stop()
	s.state.reset()
	s.Conversations.reset()
	s.Threads.Open("")
	s.Sender.SetDraft(Draft{})
}

// Close tears the session down. Pending gateway responses are discarded. Close
// is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.Scheduler.Stop()
		s.Conversations.Close()
		s.Threads.Close()
		s.events.removeAll()
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ============================================================================
// Commands
// ============================================================================

// Refresh runs a non-silent refresh of the conversation list and, if one is
// selected, the open thread.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.gate("refresh"); err != nil {
		return err
	}
	err := s.Conversations.Refresh(ctx, false)
	if peerID := s.state.SelectedPeerID(); peerID != "" {
		if terr := s.Threads.Refresh(ctx, peerID, false); terr != nil {
			err = terr
		}
	}
	return err
}

// SelectConversation selects id (a conversation or peer id) and loads its
// thread. In guest mode the selection is recorded but nothing is fetched.
func (s *Session) SelectConversation(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.Conversations.Select(id)
	peerID := s.state.SelectedPeerID()
	s.Threads.Open(peerID)
	if peerID == "" || !s.state.Authenticated() {
		return nil
	}
	return s.Threads.Refresh(ctx, peerID, false)
}

// Send sends body and an optional image to the selected conversation.
func (s *Session) Send(ctx context.Context, body string, image *ImageRef) (Message, error) {
	if s.isClosed() {
		return Message{}, ErrClosed
	}
	return s.Sender.Send(ctx, s.state.SelectedPeerID(), body, image)
}

// ClearChat deletes every message of the conversation with peerID after
// confirmation. Individual delete failures do not abort the clear.
func (s *Session) ClearChat(ctx context.Context, peerID string) (ClearResult, error) {
	if err := s.gate("clear chat"); err != nil {
		return ClearResult{}, err
	}
	if peerID == "" {
		peerID = s.state.SelectedPeerID()
	}
	if peerID == "" {
		return ClearResult{}, validationError("no conversation selected")
	}
	if !s.cfg.confirmed(ctx, "clear chat", peerID) {
		return ClearResult{}, ErrDeclined
	}
	return s.Threads.Clear(ctx, peerID)
}

// BlockUser blocks peerID after confirmation and removes its conversation.
func (s *Session) BlockUser(ctx context.Context, peerID string) error {
	if err := s.gate("block user"); err != nil {
		return err
	}
	if peerID == "" {
		return validationError("no user selected")
	}
	if !s.cfg.confirmed(ctx, "block user", peerID) {
		return ErrDeclined
	}

	callCtx, cancel := s.cfg.callContext(ctx)
	defer cancel()
	if err := s.gw.BlockUser(callCtx, peerID); err != nil {
		return normalizeError(err)
	}
	s.Conversations.Remove(peerID)
	if s.state.SelectedPeerID() == peerID {
		s.state.setSelected("", "")
		s.Threads.Open("")
	}
	s.cfg.log.Info().Str("peer", peerID).Msg("user blocked")
	return nil
}

// Filter is a read-only search over the conversation list.
func (s *Session) Filter(query string) []Conversation {
	return s.Conversations.Filter(query)
}

// gate rejects mutations on closed or guest sessions. Guests get a
// login.required event instead.
func (s *Session) gate(action string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.state.Authenticated() {
		s.events.emit(EventLoginRequired, action)
		return notAuthenticated(action)
	}
	return nil
}
