package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"emojitrail/protocol"
)

// Backoff bounds the redial delay of a Supervisor.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	return b
}

// Supervisor redials its inner transport with exponential backoff whenever
// a connection attempt fails or an open connection drops. Every event is
// still forwarded, so the session sees each failure. The relay answers each
// new connection with a fresh roomState.
type Supervisor struct {
	inner   Transport
	backoff Backoff
	log     *zap.Logger

	mu      sync.Mutex
	delay   time.Duration
	cancel  context.CancelFunc
	attempt int
}

func NewSupervisor(inner Transport, b Backoff, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	b = b.withDefaults()
	return &Supervisor{inner: inner, backoff: b, log: log, delay: b.Initial}
}

func (s *Supervisor) Connect(ctx context.Context, roomID, participantID string, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()
	s.dial(ctx, roomID, participantID, h)
}

func (s *Supervisor) dial(ctx context.Context, roomID, participantID string, h Handler) {
	s.mu.Lock()
	s.attempt++
	s.mu.Unlock()
	s.inner.Connect(ctx, roomID, participantID, func(ev Event) {
		switch ev.Kind {
		case EventOpen:
			s.mu.Lock()
			s.delay = s.backoff.Initial
			s.mu.Unlock()
		case EventError, EventClose:
			defer s.schedule(ctx, roomID, participantID, h)
		}
		h(ev)
	})
}

func (s *Supervisor) schedule(ctx context.Context, roomID, participantID string, h Handler) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	wait := withJitter(s.delay, s.backoff.Jitter)
	s.delay *= 2
	if s.delay > s.backoff.Max {
		s.delay = s.backoff.Max
	}
	attempt := s.attempt
	s.mu.Unlock()

	s.log.Info("redialing relay", zap.Int("attempt", attempt), zap.Duration("wait", wait))
	time.AfterFunc(wait, func() {
		if ctx.Err() != nil {
			return
		}
		s.dial(ctx, roomID, participantID, h)
	})
}

func (s *Supervisor) Send(m protocol.Message) bool { return s.inner.Send(m) }
func (s *Supervisor) Connected() bool              { return s.inner.Connected() }

// Attempts reports how many connection attempts have been started.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.inner.Close()
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(jitter)))
}
