package chatsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

// Confirmer is asked before a destructive action (clear chat, block user)
// runs. Returning false aborts the action before any network call.
type Confirmer func(ctx context.Context, action, peerID string) bool

type settings struct {
	log            zerolog.Logger
	metrics        *Metrics
	requestTimeout time.Duration
	pollInterval   time.Duration
	clock          Clock
	confirm        Confirmer
	newID          func() string
	now            func() time.Time
}

// Option configures a Session and the components it builds.
type Option func(*settings)

func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithRequestTimeout bounds every gateway call so a hung request cannot stall
// the next poll tick.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithClock replaces the wall clock driving the sync scheduler.
func WithClock(c Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithConfirmer(c Confirmer) Option {
	return func(s *settings) { s.confirm = c }
}

func newSettings(opts []Option) settings {
	s := settings{
		log:            zerolog.Nop(),
		requestTimeout: DefaultRequestTimeout,
		pollInterval:   DefaultPollInterval,
		clock:          realClock{},
		newID:          func() string { return "local-" + uuid.NewString() },
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s settings) confirmed(ctx context.Context, action, peerID string) bool {
	if s.confirm == nil {
		return true
	}
	return s.confirm(ctx, action, peerID)
}
