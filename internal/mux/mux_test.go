package mux

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boklm/irkerd/internal/pool"
)

type fakeHandle struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Connect(ctx context.Context, host string, port int, nick string) error {
	return nil
}
func (h *fakeHandle) Join(channel string) error { return nil }
func (h *fakeHandle) Privmsg(channel, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, channel+":"+text)
	return nil
}
func (h *fakeHandle) Quit(reason string)  {}
func (h *fakeHandle) Close() error        { return nil }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sent))
	copy(out, h.sent)
	return out
}

// fakeConnector mints one handle per distinct (host, port) pair it sees,
// recording how many times Acquire was called in total.
type fakeConnector struct {
	mu       sync.Mutex
	handles  map[string]*fakeHandle
	acquires int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{handles: make(map[string]*fakeHandle)}
}

func (c *fakeConnector) Acquire(ctx context.Context, host string, port int) (*pool.Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	k := fmt.Sprintf("%s:%d", host, port)
	h, ok := c.handles[k]
	if !ok {
		h = newFakeHandle()
		c.handles[k] = h
	}
	return &pool.Lease{Handle: h}, nil
}

func (c *fakeConnector) Release(lease *pool.Lease) {}

func (c *fakeConnector) Refcount(lease *pool.Lease) int { return 1 }

func (c *fakeConnector) handleFor(host string, port int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[fmt.Sprintf("%s:%d", host, port)]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestHandleDeliversValidRequest(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev", "privmsg": "hello"}`))

	waitFor(t, func() bool {
		h := conn.handleFor("irc.example.net", 6667)
		return h != nil && len(h.messages()) == 1
	})
	h := conn.handleFor("irc.example.net", 6667)
	assert.Equal(t, []string{"#dev:hello"}, h.messages())
}

func TestHandleDropsMalformedJSON(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`not json`))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, conn.acquires, "malformed requests must never reach the pool")
}

func TestHandleDropsMissingFields(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev"}`))
	m.Handle([]byte(`{"privmsg": "hello"}`))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, conn.acquires)
}

func TestHandleDropsInvalidChannelURL(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "not a url", "privmsg": "hello"}`))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, conn.acquires)
}

func TestHandleReusesSessionForSameDestination(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev", "privmsg": "one"}`))
	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev", "privmsg": "two"}`))

	waitFor(t, func() bool {
		h := conn.handleFor("irc.example.net", 6667)
		return h != nil && len(h.messages()) == 2
	})

	m.mu.Lock()
	count := len(m.sessions)
	m.mu.Unlock()
	assert.Equal(t, 1, count, "same destination must reuse one session")
}

func TestHandleCreatesDistinctSessionsPerChannel(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev", "privmsg": "a"}`))
	m.Handle([]byte(`{"channel": "irc://irc.example.net/ops", "privmsg": "b"}`))

	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.sessions) == 2
	})
}

func TestShutdownDrainsQueuedMessages(t *testing.T) {
	conn := newFakeConnector()
	m := New(conn, time.Hour, nil)

	m.Handle([]byte(`{"channel": "irc://irc.example.net/dev", "privmsg": "flush me"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	h := conn.handleFor("irc.example.net", 6667)
	require.NotNil(t, h)
	assert.Equal(t, []string{"#dev:flush me"}, h.messages())
}
