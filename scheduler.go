package chatsync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Clock
// ============================================================================

// Ticker is the subset of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ============================================================================
// Scheduler
// ============================================================================

// SchedulerState is the state of a Scheduler.
type SchedulerState string

const (
	SchedulerStopped SchedulerState = "stopped"
	SchedulerRunning SchedulerState = "running"
)

// Scheduler polls both stores on a fixed interval. Only one loop runs per
// scheduler; it never runs for guests.
type Scheduler struct {
	state   *State
	convs   *ConversationStore
	threads *MessageThreadStore
	cfg     settings
	events  *emitter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler over the two stores.
func NewScheduler(state *State, convs *ConversationStore, threads *MessageThreadStore, opts ...Option) *Scheduler {
	cfg := newSettings(opts)
	return &Scheduler{state: state, convs: convs, threads: threads, cfg: cfg, events: newEmitter(cfg.log)}
}

// Start enters Running. It fails with NotAuthenticated in guest mode or when no
// user is present, and is a no-op when already running.
func (s *Scheduler) Start() error {
	if !s.state.Authenticated() {
		return notAuthenticated("polling")
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	ticker := s.cfg.clock.NewTicker(s.cfg.pollInterval)
	go s.loop(ctx, ticker, s.done)
	s.mu.Unlock()

	s.cfg.log.Debug().Dur("interval", s.cfg.pollInterval).Msg("polling started")
	s.events.emit(EventPollingChanged, true)
	return nil
}

// Stop enters Stopped. It is idempotent. Once Stop returns no tick starts a
// fetch and no in-flight tick result is applied to the stores.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.cfg.log.Debug().Msg("polling stopped")
	s.events.emit(EventPollingChanged, false)
}

// Done returns a channel closed when the current (or last) loop has exited.
// It is nil if the scheduler was never started.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// State reports whether the scheduler is running.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return SchedulerRunning
	}
	return SchedulerStopped
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick refreshes the conversation list and, when a conversation is selected,
// its thread. Both refreshes are silent and run concurrently; their errors are
// already recorded by the stores.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil || !s.state.Authenticated() {
		return
	}
	s.cfg.metrics.tick()

	var g errgroup.Group
	g.Go(func() error { return s.convs.Refresh(ctx, true) })
	if peerID := s.state.SelectedPeerID(); peerID != "" {
		g.Go(func() error { return s.threads.Refresh(ctx, peerID, true) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		s.cfg.log.Debug().Err(err).Msg("poll tick failed")
	}
}
