// Package daemon wires the connection pool, multiplexer, and listener
// together into the running irkerd process, including PID file management
// and graceful shutdown on context cancellation.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boklm/irkerd/internal/config"
	"github.com/boklm/irkerd/internal/ircfacade"
	"github.com/boklm/irkerd/internal/listener"
	"github.com/boklm/irkerd/internal/mux"
	"github.com/boklm/irkerd/internal/pool"
)

// Config holds irkerd's runtime tunables. Defaults match the original
// irker.py's HOST/PORT/CONNECT_MAX constants.
type Config struct {
	Host            string
	Port            int
	Debug           int
	TTL             time.Duration
	ConnectMax      int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the tunables irkerd runs with when the CLI
// supplies no overrides.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            4747,
		Debug:           0,
		TTL:             3 * time.Hour,
		ConnectMax:      18, // maximum connections per bot (freenode limit)
		ShutdownTimeout: 30 * time.Second,
	}
}

// Daemon wires a Driver, Pool, Multiplexer, and Listener into one running
// process and manages the PID file for its lifetime.
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	driver   *ircfacade.Driver
	pool     *pool.Pool
	mux      *mux.Multiplexer
	listener *listener.Listener
}

// New builds a Daemon from cfg. The listener socket is not opened until
// Run is called.
func New(cfg Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	driver := ircfacade.NewDriver(logger, cfg.Debug-1)
	p := pool.New(driver, cfg.ConnectMax)
	m := mux.New(p, cfg.TTL, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	l := listener.New(addr, m, logger)

	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		driver:   driver,
		pool:     p,
		mux:      m,
		listener: l,
	}
}

// Run writes the PID file, serves the listener until ctx is canceled, then
// drains and terminates every session before removing the PID file. It
// returns a non-zero-exit-worthy error only when the PID file cannot be
// written or the listener cannot bind.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer d.removePIDFile()

	d.logger.Info("irkerd starting", "host", d.cfg.Host, "port", d.cfg.Port)

	if err := d.listener.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	d.logger.Info("shutting down, draining sessions", "timeout", d.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	d.mux.Shutdown(shutdownCtx)

	d.logger.Info("irkerd stopped")
	return nil
}

func (d *Daemon) writePIDFile() error {
	path, err := config.PIDFilePath()
	if err != nil {
		return err
	}
	if err := config.EnsureDir(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return config.AtomicWriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

func (d *Daemon) removePIDFile() {
	path, err := config.PIDFilePath()
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove pid file", "error", err)
	}
}
