package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MessageThreadStore owns the messages of the currently open conversation,
// ordered by CreatedAt ascending.
type MessageThreadStore struct {
	gw     ChatGateway
	cfg    settings
	events *emitter

	// onRead is called after the server accepted a mark-read for a peer.
	onRead func(peerID string)

	mu      sync.Mutex
	peerID  string
	msgs    []Message
	loading int
	lastErr error
	issued  uint64
	applied uint64
	closed  bool

	// bg scopes background mark-read calls; Close cancels it.
	bg     context.Context
	stopBg context.CancelFunc
}

// ClearResult reports the outcome of a clear-chat.
type ClearResult struct {
	Deleted []string
	Failed  map[string]error
}

// NewMessageThreadStore creates a store reading from gw.
func NewMessageThreadStore(gw ChatGateway, opts ...Option) *MessageThreadStore {
	cfg := newSettings(opts)
	return &MessageThreadStore{gw: gw, cfg: cfg, events: newEmitter(cfg.log)}
}

// Open switches the store to peerID with an empty thread. Responses still in
// flight for the previous peer are discarded.
func (s *MessageThreadStore) Open(peerID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.peerID != peerID || len(s.msgs) > 0
	s.peerID = peerID
	s.msgs = nil
	s.lastErr = nil
	s.applied = s.issued
	s.mu.Unlock()
	if changed {
		s.events.emit(EventMessagesUpdated, []Message{})
	}
}

// Refresh fetches the thread for peerID and replaces the local copy. After a
// successful refresh a best-effort mark-read is fired in the background.
func (s *MessageThreadStore) Refresh(ctx context.Context, peerID string, silent bool) error {
	if peerID == "" {
		return validationError("no conversation selected")
	}
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
	raw, err := s.gw.FetchMessages(callCtx, peerID)
	s.cfg.metrics.refresh("messages", err, time.Since(start).Seconds())
	if err != nil {
		err = normalizeError(err)
		s.apply(ctx, seq, peerID, nil, err)
		return err
	}

	msgs, dropped := NormalizeMessages(raw)
	s.cfg.metrics.drop("message", dropped)
	if dropped > 0 {
		s.cfg.log.Debug().Str("peer", peerID).Int("dropped", dropped).Msg("dropped malformed messages")
	}
	if s.apply(ctx, seq, peerID, msgs, nil) {
		go s.markRead(ctx, peerID)
	}
	return nil
}

func (s *MessageThreadStore) begin(silent bool) (uint64, error) {
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
		s.events.emit(EventLoadingChanged, LoadingState{Messages: true})
	}
	return seq, nil
}

func (s *MessageThreadStore) endLoading() {
	s.mu.Lock()
	s.loading--
	changed := s.loading == 0
	s.mu.Unlock()
	if changed {
		s.events.emit(EventLoadingChanged, LoadingState{Messages: false})
	}
}

// apply installs a refresh result and reports whether it was applied.
func (s *MessageThreadStore) apply(ctx context.Context, seq uint64, peerID string, msgs []Message, err error) bool {
	s.mu.Lock()
	if s.closed || ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if seq <= s.applied || (s.peerID != "" && s.peerID != peerID) {
		open := s.peerID
		s.mu.Unlock()
		s.cfg.metrics.stale("messages")
		s.cfg.log.Debug().Str("peer", peerID).Str("open", open).Uint64("seq", seq).Msg("discarded stale thread refresh")
		return false
	}
	s.applied = seq
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.cfg.log.Warn().Err(err).Str("peer", peerID).Msg("thread refresh failed")
		s.events.emit(EventError, err)
		return false
	}
	s.peerID = peerID
	s.msgs = msgs
	s.lastErr = nil
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.events.emit(EventMessagesUpdated, snapshot)
	return true
}

// markRead tells the server the thread was read. Failures are logged and
// otherwise ignored. The call is abandoned when either ctx or the store is
// cancelled, and the read hook only runs while ctx is still live.
func (s *MessageThreadStore) markRead(ctx context.Context, peerID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.bg == nil {
		s.bg, s.stopBg = context.WithCancel(context.Background())
	}
	bg := s.bg
	s.mu.Unlock()

	scoped, stop := context.WithCancel(bg)
	defer stop()
	unlink := context.AfterFunc(ctx, stop)
	defer unlink()

	callCtx, cancel := s.cfg.callContext(scoped)
	defer cancel()
	if err := s.gw.MarkRead(callCtx, peerID); err != nil {
		s.cfg.log.Debug().Err(err).Str("peer", peerID).Msg("mark read failed")
		return
	}
	s.mu.Lock()
	live := !s.closed && ctx.Err() == nil
	s.mu.Unlock()
	if live && s.onRead != nil {
		s.onRead(peerID)
	}
}

// AppendOptimistic appends a locally created message to the open thread if it
// belongs to it. Refreshes issued before this call are discarded so that the
// message is only superseded by a refresh that started after the send.
func (s *MessageThreadStore) AppendOptimistic(peerID string, msg Message) {
	s.mu.Lock()
	if s.closed || s.peerID != peerID {
		s.mu.Unlock()
		return
	}
	next := make([]Message, len(s.msgs), len(s.msgs)+1)
	copy(next, s.msgs)
	s.msgs = append(next, msg)
	sortMessages(s.msgs)
	s.applied = s.issued
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.events.emit(EventMessagesUpdated, snapshot)
}

// Clear deletes, one at a time, every message held for peerID and then empties
// the local thread. Individual delete failures are logged and reported in the
// result but never stop the remaining deletes. If peerID is not the open
// thread, its messages are fetched first.
func (s *MessageThreadStore) Clear(ctx context.Context, peerID string) (ClearResult, error) {
	res := ClearResult{Failed: map[string]error{}}
	if peerID == "" {
		return res, validationError("no conversation selected")
	}

	msgs, err := s.heldFor(ctx, peerID)
	if err != nil {
		return res, err
	}

	for _, m := range msgs {
		if m.Pending {
			continue
		}
		callCtx, cancel := s.cfg.callContext(ctx)
		err := s.gw.DeleteMessage(callCtx, m.ID)
		cancel()
		if err != nil {
			res.Failed[m.ID] = err
			s.cfg.log.Warn().Err(err).Str("peer", peerID).Str("message_id", m.ID).Msg("delete message failed")
			continue
		}
		res.Deleted = append(res.Deleted, m.ID)
	}

	s.mu.Lock()
	emptied := false
	if !s.closed && s.peerID == peerID {
		s.msgs = nil
		s.applied = s.issued
		emptied = true
	}
	s.mu.Unlock()
	if emptied {
		s.events.emit(EventMessagesUpdated, []Message{})
	}
	s.cfg.log.Info().Str("peer", peerID).Int("deleted", len(res.Deleted)).Int("failed", len(res.Failed)).Msg("chat cleared")
	return res, nil
}

func (s *MessageThreadStore) heldFor(ctx context.Context, peerID string) ([]Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.peerID == peerID {
		msgs := s.snapshotLocked()
		s.mu.Unlock()
		return msgs, nil
	}
	s.mu.Unlock()

	callCtx, cancel := s.cfg.callContext(ctx)
	defer cancel()
	raw, err := s.gw.FetchMessages(callCtx, peerID)
	if err != nil {
		return nil, normalizeError(err)
	}
	msgs, _ := NormalizeMessages(raw)
	return msgs, nil
}

// PeerID returns the peer of the open thread.
func (s *MessageThreadStore) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Messages returns a copy of the open thread.
func (s *MessageThreadStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Search returns messages of the open thread whose body contains query,
// ignoring case.
func (s *MessageThreadStore) Search(query string) []Message {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Message
	for _, m := range s.Messages() {
		if q == "" || strings.Contains(strings.ToLower(m.Body), q) {
			out = append(out, m)
		}
	}
	return out
}

func (s *MessageThreadStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

func (s *MessageThreadStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops the store from applying any further results and cancels
// pending mark-read calls.
func (s *MessageThreadStore) Close() {
	s.mu.Lock()
	s.closed = true
	if s.stopBg != nil {
		s.stopBg()
	}
	s.mu.Unlock()
}

func (s *MessageThreadStore) snapshotLocked() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
