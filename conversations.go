package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed session or store.
var ErrClosed = errors.New("chatsync: session closed")

// ConversationStore owns the local conversation list of one chat surface.
// The list is replaced wholesale on every successful refresh.
type ConversationStore struct {
	gw     ChatGateway
	state  *State
	cfg    settings
	events *emitter

	mu      sync.Mutex
	convs   []Conversation
	loading int
	lastErr error
	issued  uint64
	applied uint64
	closed  bool
}

// NewConversationStore creates a store reading from gw.
func NewConversationStore(gw ChatGateway, state *State, opts ...Option) *ConversationStore {
	cfg := newSettings(opts)
	return &ConversationStore{gw: gw, state: state, cfg: cfg, events: newEmitter(cfg.log)}
}

// Refresh fetches the conversation list. When the server has none, the admin
// directory is turned into placeholder conversations. On failure the previous
// list is kept and the error is recorded. silent refreshes never touch the
// loading flag.
func (s *ConversationStore) Refresh(ctx context.Context, silent bool) error {
	seq, err := s.begin(silent)
	if err != nil {
		return err
	}
	if !silent {
		defer s.endLoading()
	}

	callCtx, cancel := s.cfg.callContext(ctx)
	defer cancel()

	start := time.Now()
	convs, err := s.fetch(callCtx)
	s.cfg.metrics.refresh("conversations", err, time.Since(start).Seconds())
	if err != nil {
		err = normalizeError(err)
	}
	s.apply(ctx, seq, convs, err)
	return err
}

func (s *ConversationStore) fetch(ctx context.Context) ([]Conversation, error) {
	raw, err := s.gw.FetchConversations(ctx)
	if err != nil {
		return nil, err
	}
	convs, dropped := NormalizeConversations(raw)
	s.cfg.metrics.drop("conversation", dropped)
	if dropped > 0 {
		s.cfg.log.Debug().Int("dropped", dropped).Msg("dropped malformed conversations")
	}
	if len(convs) > 0 {
		return convs, nil
	}

	rawAdmins, err := s.gw.FetchAdmins(ctx)
	if err != nil {
		return nil, err
	}
	admins, dropped := NormalizeUsers(rawAdmins)
	s.cfg.metrics.drop("user", dropped)
	return conversationsFromAdmins(admins, s.state.CurrentUserID()), nil
}

func (s *ConversationStore) begin(silent bool) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.issued++
	seq := s.issued
	changed := false
	if !silent {
		s.loading++
		changed = s.loading == 1
	}
	s.mu.Unlock()
	if changed {
		s.events.emit(EventLoadingChanged, LoadingState{Conversations: true})
	}
	return seq, nil
}

func (s *ConversationStore) endLoading() {
	s.mu.Lock()
	s.loading--
	changed := s.loading == 0
	s.mu.Unlock()
	if changed {
		s.events.emit(EventLoadingChanged, LoadingState{Conversations: false})
	}
}

// apply installs a refresh result unless the store was closed, the caller's
// context was cancelled, or a newer result has already been applied.
func (s *ConversationStore) apply(ctx context.Context, seq uint64, convs []Conversation, err error) {
	s.mu.Lock()
	if s.closed || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if seq <= s.applied {
		s.mu.Unlock()
		s.cfg.metrics.stale("conversations")
		s.cfg.log.Debug().Uint64("seq", seq).Msg("discarded stale conversation refresh")
		return
	}
	s.applied = seq
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.cfg.log.Warn().Err(err).Msg("conversation refresh failed")
		s.events.emit(EventError, err)
		return
	}
	s.convs = convs
	s.lastErr = nil
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.events.emit(EventConversationsUpdated, snapshot)
}

// Select records id as the selected conversation. It does not fetch; callers
// refresh the thread store themselves.
func (s *ConversationStore) Select(id string) {
	peerID := id
	if c, ok := s.Find(id); ok {
		peerID = c.Peer.ID
	}
	s.state.setSelected(id, peerID)
}

// Conversations returns a copy of the current list.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Filter returns the conversations whose peer name or last message body
// contains query, ignoring case.
func (s *ConversationStore) Filter(query string) []Conversation {
	all := s.Conversations()
	out := make([]Conversation, 0, len(all))
	for _, c := range all {
		if c.Matches(query) {
			out = append(out, c)
		}
	}
	return out
}

// Find looks a conversation up by conversation id or peer id.
func (s *ConversationStore) Find(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.Is(id) {
			return c, true
		}
	}
	return Conversation{}, false
}

// TotalUnread sums unread counts across the list.
func (s *ConversationStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

func (s *ConversationStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// Err returns the error of the last applied refresh, or nil.
func (s *ConversationStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ApplySent surfaces a just-sent message as the last message of the peer's
// conversation. Refreshes issued before this call are discarded.
func (s *ConversationStore) ApplySent(peerID string, msg Message) {
	s.mutate(func(c *Conversation) bool {
		if c.Peer.ID != peerID {
			return false
		}
		m := msg
		c.LastMessage = &m
		return true
	})
}

// ApplyRead zeroes the local unread count of the peer's conversation.
func (s *ConversationStore) ApplyRead(peerID string) {
	s.mutate(func(c *Conversation) bool {
		if c.Peer.ID != peerID || c.UnreadCount == 0 {
			return false
		}
		c.UnreadCount = 0
		return true
	})
}

// Remove drops the peer's conversation from the list.
func (s *ConversationStore) Remove(peerID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if c.Peer.ID != peerID {
			next = append(next, c)
		}
	}
	changed := len(next) != len(s.convs)
	if changed {
		s.convs = next
		s.applied = s.issued
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.events.emit(EventConversationsUpdated, snapshot)
	}
}

// mutate rebuilds the list with fn applied to each entry. fn reports whether it
// changed the entry.
func (s *ConversationStore) mutate(fn func(*Conversation) bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := make([]Conversation, len(s.convs))
	copy(next, s.convs)
	changed := false
	for i := range next {
		if fn(&next[i]) {
			changed = true
		}
	}
	if changed {
		s.convs = next
		s.applied = s.issued
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.events.emit(EventConversationsUpdated, snapshot)
	}
}

// reset empties the store, e.g. on sign-out.
func (s *ConversationStore) reset() {
	s.mu.Lock()
	s.convs = nil
	s.lastErr = nil
	s.applied = s.issued
	s.mu.Unlock()
	s.events.emit(EventConversationsUpdated, []Conversation{})
}

// Close stops the store from applying any further results.
func (s *ConversationStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *ConversationStore) snapshotLocked() []Conversation {
	out := make([]Conversation, len(s.convs))
	copy(out, s.convs)
	return out
}
