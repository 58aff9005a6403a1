// Package mux implements the Multiplexer: it routes incoming relay
// requests to a per-destination Session, creating sessions lazily, and
// coordinates orderly shutdown of every session it owns.
package mux

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/boklm/irkerd/internal/pool"
	"github.com/boklm/irkerd/internal/relay"
	"github.com/boklm/irkerd/internal/session"
)

// connector is the subset of *pool.Pool a Session needs to acquire and
// release handles; narrowed here purely to pass through to session.New.
type connector interface {
	Acquire(ctx context.Context, host string, port int) (*pool.Lease, error)
	Release(lease *pool.Lease)
	Refcount(lease *pool.Lease) int
}

// Multiplexer owns one Session per distinct destination URL, created the
// first time a request for that destination arrives.
type Multiplexer struct {
	pool   connector
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New builds a Multiplexer. ttl is the idle eviction window passed through
// to every Session it creates.
func New(p connector, ttl time.Duration, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		pool:     p,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}
}

// Handle parses one wire-protocol line and enqueues it on the appropriate
// session, creating that session if this is its first request. Malformed
// requests are logged and dropped; Handle never returns an error because
// there is no caller in a position to act on one (spec'd listener
// behavior: a bad line never closes the connection it arrived on).
func (m *Multiplexer) Handle(line []byte) {
	req, err := relay.ParseRequest(line)
	if err != nil {
		m.logger.Warn("dropping malformed request", "error", err)
		return
	}
	dest, err := relay.ParseDestination(req.Channel)
	if err != nil {
		m.logger.Warn("dropping request with invalid channel url", "error", err)
		return
	}

	s := m.sessionFor(*dest)
	if err := s.Enqueue(req.Privmsg); err != nil {
		m.logger.Warn("dropping request for terminated session", "url", dest.URL, "error", err)
	}
}

// sessionFor returns the session for dest, creating and starting it if
// this is the first time dest has been seen.
func (m *Multiplexer) sessionFor(dest relay.Destination) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[dest.URL]; ok {
		return s
	}
	s := session.New(dest, m.pool, m.ttl, m.logger.With("destination", dest.URL))
	m.sessions[dest.URL] = s
	s.Start()
	return s
}

// Shutdown drains every session's pending messages and then terminates
// every session, bounded by ctx. Draining happens before terminating so
// that queued messages are flushed rather than dropped, matching the
// "flush on shutdown" expectation from the wire protocol.
func (m *Multiplexer) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := s.Drain(ctx); err != nil {
				m.logger.Warn("drain timed out, terminating anyway", "error", err)
			}
			s.Terminate()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline exceeded, some sessions may not have drained")
	}
}
