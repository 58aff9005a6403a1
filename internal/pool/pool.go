// Package pool implements the per-(host,port) IRC connection pool: it
// enforces CONNECT_MAX sharers per handle and hands out a fresh handle,
// under a fresh unique nickname, whenever the current one is full.
package pool

import (
	"context"
	"fmt"
	"sync"
)

// Handle is an open IRC connection. It is the pool's view of the server
// handles the ircfacade package implements — kept as a separate interface
// here so pool tests can supply a fake without importing the real IRC
// client adapter.
type Handle interface {
	Connect(ctx context.Context, host string, port int, nick string) error
	Join(channel string) error
	Privmsg(channel, text string) error
	Quit(reason string)
	Close() error
	Done() <-chan struct{}
}

// Driver mints new, unconnected handles under a caller-supplied nickname.
type Driver interface {
	NewServer(nick string) (Handle, error)
}

type key struct {
	host string
	port int
}

// entry is one pool slot: a handle shared by refcount sessions. pending is
// non-nil while the handle is still connecting, so Acquire never hands out
// a handle that hasn't finished Connect.
type entry struct {
	nick     string
	handle   Handle
	refcount int
	pending  chan struct{}
}

// Lease is a pool-issued claim on a Handle. Callers must pass it back to
// Release exactly once.
type Lease struct {
	Handle Handle
	key    key
	entry  *entry
}

// Pool maps (host, port) to a set of shared handles, enforcing a hard cap
// on sessions per handle.
type Pool struct {
	mu             sync.Mutex
	entries        map[key][]*entry
	nickCounter    uint64
	driver         Driver
	max            int
	nickPrefix     string
}

// New builds a Pool. max is CONNECT_MAX: the maximum number of sessions
// that may share a single handle before a new one is allocated.
func New(driver Driver, max int) *Pool {
	return &Pool{
		entries:    make(map[key][]*entry),
		driver:     driver,
		max:        max,
		nickPrefix: "irker",
	}
}

// Acquire returns a usable handle for (host, port), creating one if none
// exists or the existing ones are all at capacity or still connecting
// (an entry is only shared once its Connect has finished). It blocks only for the
// duration of a fresh Connect when a new handle must be created.
func (p *Pool) Acquire(ctx context.Context, host string, port int) (*Lease, error) {
	k := key{host: host, port: port}

	p.mu.Lock()
	for i := len(p.entries[k]) - 1; i >= 0; i-- {
		e := p.entries[k][i]
		if e.pending == nil && e.refcount < p.max {
			e.refcount++
			p.mu.Unlock()
			return &Lease{Handle: e.handle, key: k, entry: e}, nil
		}
	}

	p.nickCounter++
	nick := fmt.Sprintf("%s%03d", p.nickPrefix, p.nickCounter)
	e := &entry{nick: nick, refcount: 1, pending: make(chan struct{})}
	p.entries[k] = append(p.entries[k], e)
	p.mu.Unlock()

	handle, err := p.driver.NewServer(nick)
	if err == nil {
		err = handle.Connect(ctx, host, port, nick)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	close(e.pending)
	e.pending = nil
	if err != nil {
		p.removeEntryLocked(k, e)
		return nil, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	e.handle = handle
	return &Lease{Handle: handle, key: k, entry: e}, nil
}

// Release decrements the lease's handle's refcount. When it reaches zero
// the handle is closed and the pool entry removed.
func (p *Pool) Release(lease *Lease) {
	if lease == nil {
		return
	}
	p.mu.Lock()
	lease.entry.refcount--
	shouldClose := lease.entry.refcount <= 0
	if shouldClose {
		p.removeEntryLocked(lease.key, lease.entry)
	}
	p.mu.Unlock()

	if shouldClose {
		lease.Handle.Close()
	}
}

// removeEntryLocked must be called with p.mu held.
func (p *Pool) removeEntryLocked(k key, target *entry) {
	list := p.entries[k]
	for i, e := range list {
		if e == target {
			p.entries[k] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.entries[k]) == 0 {
		delete(p.entries, k)
	}
}

// Refcount reports the current sharer count for the given lease's handle.
// Sessions use it to send QUIT only as a handle's last sharer; tests use it
// to verify the CONNECT_MAX invariant.
func (p *Pool) Refcount(lease *Lease) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lease.entry.refcount
}

// Empty reports whether the pool currently holds no entries at all — used
// by tests to verify no handle leaks after every session terminates.
func (p *Pool) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}
