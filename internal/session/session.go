// Package session implements one destination channel's message queue and
// pump: the per-session state machine that drains a FIFO of outbound
// PRIVMSGs onto a pooled IRC handle, enforcing idle TTL eviction and
// exponential-backoff retry when connecting fails. A message whose send
// fails stays at the head of the FIFO and is retried on a freshly acquired
// handle; that retry is delayed only if the new Acquire itself fails.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/boklm/irkerd/internal/pool"
	"github.com/boklm/irkerd/internal/relay"
)

// ErrTerminated is returned by Enqueue once Terminate has been called.
var ErrTerminated = errors.New("session: terminated")

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// connector is the subset of *pool.Pool a Session needs; narrowed to an
// interface so tests can supply a fake without standing up a real pool.
type connector interface {
	Acquire(ctx context.Context, host string, port int) (*pool.Lease, error)
	Release(lease *pool.Lease)
	Refcount(lease *pool.Lease) int
}

// Session owns one destination's outbound FIFO and pump. At most one pump
// goroutine runs per Session for its whole lifetime.
type Session struct {
	dest   relay.Destination
	pool   connector
	ttl    time.Duration
	logger *slog.Logger

	mu           sync.Mutex
	queue        []string
	lease        *pool.Lease
	lastActive   time.Time
	terminated   bool
	drainWaiters []chan struct{}

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Session for dest. Its pump is not started until Start is
// called; the Multiplexer is expected to call Start immediately after New,
// per the "pump starts immediately" lifecycle rule.
func New(dest relay.Destination, p connector, ttl time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		dest:    dest,
		pool:    p,
		ttl:     ttl,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the pump goroutine. Calling it more than once is a bug in
// the caller (the Multiplexer), not handled defensively here.
func (s *Session) Start() {
	go s.run()
}

// Enqueue appends text to the FIFO for delivery, in order, to the
// destination channel. It never blocks on network I/O.
func (s *Session) Enqueue(text string) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.queue = append(s.queue, text)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Drain blocks until the FIFO is empty and the pump has flushed the last
// message to the IRC handle, or ctx expires.
func (s *Session) Drain(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	s.drainWaiters = append(s.drainWaiters, done)
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return nil
	}
}

// Terminate releases the pool reference on the current handle (if any),
// sending QUIT on it first only when this session is the handle's last
// sharer, and stops the pump. It blocks until the pump has exited.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	close(s.stop)
	<-s.stopped
}

func (s *Session) run() {
	defer close(s.stopped)
	backoff := initialBackoff
	first := true

	for {
		select {
		case <-s.stop:
			s.teardown()
			return
		default:
		}

		s.mu.Lock()
		lease := s.lease
		hasWork := len(s.queue) > 0
		s.mu.Unlock()

		if lease == nil {
			// Only the pump's first entry acquires unconditionally; every
			// later DISCONNECTED->CONNECTED_IDLE transition (post-TTL-
			// eviction) requires a queued message, or the pump would
			// reconnect and idle-evict forever with nothing to send.
			if !first && !hasWork {
				if !s.waitForEnqueue() {
					s.teardown()
					return
				}
				continue
			}

			newLease, err := s.pool.Acquire(context.Background(), s.dest.Host, s.dest.Port)
			if err != nil {
				s.logger.Warn("connect failed, retrying", "error", err, "retry_in", backoff)
				if !s.sleepOrStop(backoff) {
					s.teardown()
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			s.mu.Lock()
			s.lease = newLease
			s.lastActive = time.Now()
			s.mu.Unlock()
			backoff = initialBackoff
			first = false
			continue
		}

		if !s.step(lease) {
			continue
		}

		select {
		case <-lease.Handle.Done():
			// Connection dropped out from under us: drop the lease and go
			// back to DISCONNECTED. The next Acquire happens as soon as a
			// message is queued; backoff applies only if that Acquire fails.
			s.logger.Warn("connection lost, reconnecting")
			s.mu.Lock()
			s.lease = nil
			s.mu.Unlock()
			s.pool.Release(lease)
		default:
		}
	}
}

// step runs one iteration of the CONNECTED_IDLE / CONNECTED_SENDING part of
// the pump with a handle already in hand. It returns true only after a
// message was sent, so the caller knows to check the handle for connection
// loss; it returns false after an idle wait, a TTL eviction, or a failed send.
func (s *Session) step(lease *pool.Lease) bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		if time.Since(s.lastActive) > s.ttl {
			s.lease = nil
			s.mu.Unlock()
			s.logger.Debug("ttl eviction")
			s.pool.Release(lease)
			return false
		}
		s.flushDrainWaitersLocked()
		remaining := s.ttl - time.Since(s.lastActive)
		s.mu.Unlock()
		s.waitForWork(remaining)
		return false
	}

	// The message stays at the head of the queue until it has been sent, so
	// Drain cannot observe an empty queue while a send is still in flight.
	msg := s.queue[0]
	s.mu.Unlock()

	err := lease.Handle.Join("#" + s.dest.Channel)
	if err == nil {
		err = lease.Handle.Privmsg("#"+s.dest.Channel, msg)
	}
	if err != nil {
		s.logger.Warn("send failed, keeping message at head of queue", "error", err)
		s.mu.Lock()
		s.lease = nil
		s.mu.Unlock()
		s.pool.Release(lease)
		return false
	}

	s.mu.Lock()
	s.queue = s.queue[1:]
	s.lastActive = time.Now()
	if len(s.queue) == 0 {
		s.flushDrainWaitersLocked()
	}
	s.mu.Unlock()
	return true
}

// flushDrainWaitersLocked must be called with s.mu held, and only when the
// queue is observed empty.
func (s *Session) flushDrainWaitersLocked() {
	for _, ch := range s.drainWaiters {
		close(ch)
	}
	s.drainWaiters = nil
}

// waitForWork blocks until a message is enqueued, the TTL deadline named
// by d elapses, or Terminate is called.
func (s *Session) waitForWork(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.wake:
	case <-timer.C:
	case <-s.stop:
	}
}

// waitForEnqueue blocks until a message is enqueued or Terminate is called.
// Used in the DISCONNECTED state, which has no TTL clock of its own to race
// against — unlike waitForWork, there is nothing to time out on.
func (s *Session) waitForEnqueue() bool {
	select {
	case <-s.wake:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Session) sleepOrStop(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (s *Session) teardown() {
	s.mu.Lock()
	lease := s.lease
	s.lease = nil
	s.flushDrainWaitersLocked()
	s.mu.Unlock()

	if lease != nil {
		// Only send QUIT if this session is the handle's last sharer —
		// other sessions may still be pumping messages through it.
		if s.pool.Refcount(lease) <= 1 {
			lease.Handle.Quit("relay session closing")
		}
		s.pool.Release(lease)
	}
}
