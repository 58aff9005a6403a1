// Package listener accepts TCP connections on the relay port and forwards
// each newline-delimited request line to a Multiplexer, one goroutine per
// connection.
package listener

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
)

const maxLineSize = 1 << 20 // 1MB, generous for a single relay request line

// handler is the subset of *mux.Multiplexer the listener depends on.
type handler interface {
	Handle(line []byte)
}

// Listener accepts connections on a single TCP address and feeds every
// line it reads to a handler.
type Listener struct {
	addr    string
	handler handler
	logger  *slog.Logger

	ln net.Listener
}

// New builds a Listener bound to addr (host:port). The socket is not
// opened until Serve is called.
func New(addr string, h handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{addr: addr, handler: h, logger: logger}
}

// Serve opens the listening socket and accepts connections until ctx is
// canceled, at which point the socket is closed and Serve returns nil.
// Per-connection errors never stop the accept loop.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	l.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.logger.Info("listening", "addr", l.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("accept error", "error", err)
			continue
		}
		go l.handleConnection(conn)
	}
}

// Addr reports the actual listening address, useful in tests that bind to
// port 0 and need to discover the chosen port.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	logger := l.logger.With("conn", connID)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Copy: scanner.Bytes() is invalidated on the next Scan call, and
		// Handle may retain the line past this iteration.
		cp := make([]byte, len(line))
		copy(cp, line)
		l.handler.Handle(cp)
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("connection read error", "error", err)
	}
}
