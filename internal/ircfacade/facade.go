// Package ircfacade adapts github.com/lrstanley/girc to the narrow
// driver/handle contract the connection pool and session pump depend on.
// Nothing outside this package imports girc directly.
package ircfacade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/boklm/irkerd/internal/pool"
	"github.com/lrstanley/girc"
)

// Driver mints new, unconnected handles. Each handle's girc.Client runs its
// own Connect() event loop (PING/PONG included) on a dedicated background
// goroutine, so keepalive on one handle never waits on another session's
// pump.
type Driver struct {
	logger *slog.Logger
	debug  int
}

// NewDriver builds a Driver. debug is the IRC-client-facing verbosity,
// conventionally one level below the daemon's own -d level. The Driver
// records it but does not pass it on: girc's own debug output is not
// enabled by any level.
func NewDriver(logger *slog.Logger, debug int) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger, debug: debug}
}

// NewServer allocates a new, unconnected handle under the given nickname.
func (d *Driver) NewServer(nick string) (pool.Handle, error) {
	cfg := girc.Config{
		Nick:           nick,
		User:           "irkerd",
		Name:           "irkerd relay bot",
		ReconnectDelay: 0,
		MaxRetries:     0, // reconnection is the session pump's job, not girc's
	}
	client := girc.New(cfg)
	return &serverHandle{
		client: client,
		nick:   nick,
		done:   make(chan struct{}),
		logger: d.logger.With("nick", nick),
	}, nil
}

type serverHandle struct {
	client *girc.Client
	nick   string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Connect configures the client for host:port and launches its blocking
// Connect() call on a dedicated goroutine: girc's Connect() IS the
// connection's read/event loop for its whole lifetime, not a quick
// handshake, and the library does not support calling it more than once on
// the same Client. A CONNECTED handler registered beforehand unblocks the
// caller once registration completes; a DISCONNECTED handler marks the
// handle done so the session pump can detect connection loss without
// polling.
func (h *serverHandle) Connect(ctx context.Context, host string, port int, nick string) error {
	h.client.Config.Server = host
	h.client.Config.Port = port
	h.client.Config.Nick = nick

	connected := make(chan struct{})
	var once sync.Once
	h.client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		once.Do(func() { close(connected) })
	})
	h.client.Handlers.Add(girc.DISCONNECTED, func(c *girc.Client, e girc.Event) {
		h.markDone()
	})

	errCh := make(chan error, 1)
	go func() {
		if err := h.client.Connect(); err != nil {
			errCh <- err
		}
		h.markDone()
	}()

	select {
	case <-connected:
		return nil
	case err := <-errCh:
		return fmt.Errorf("connect to %s:%d as %s: %w", host, port, nick, err)
	case <-ctx.Done():
		h.client.Close()
		return fmt.Errorf("connect to %s:%d as %s: %w", host, port, nick, ctx.Err())
	}
}

func (h *serverHandle) markDone() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (h *serverHandle) Join(channel string) error {
	h.client.Cmd.Join(channel)
	return nil
}

func (h *serverHandle) Privmsg(channel, text string) error {
	if !h.client.IsConnected() {
		return fmt.Errorf("handle %s: not connected", h.nick)
	}
	h.client.Cmd.Message(channel, text)
	return nil
}

func (h *serverHandle) Quit(reason string) {
	h.client.Cmd.Quit(reason)
}

func (h *serverHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	h.client.Close()
	h.markDone()
	return nil
}

func (h *serverHandle) Done() <-chan struct{} {
	return h.done
}
