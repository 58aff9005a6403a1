// Package cmd implements irkerd's command-line interface: a single cobra
// root command with the port/debug flags the original irker.py exposed.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boklm/irkerd/internal/config"
	"github.com/boklm/irkerd/internal/daemon"
	"github.com/boklm/irkerd/internal/logging"
)

var (
	flagPort  int
	flagDebug int
)

var rootCmd = &cobra.Command{
	Use:   "irkerd",
	Short: "Persistent IRC relay multiplexer",
	Long: "irkerd listens on a local TCP port for JSON relay requests and " +
		"multiplexes them onto shared IRC connections, one per destination " +
		"server, reusing connections across channels up to a connection cap.",
	RunE: runDaemon,
}

// Execute runs the root command, exiting non-zero on any error per the
// daemon's exit-code contract (clean signal-driven shutdown exits 0;
// bind failure or driver-start failure exits non-zero).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaults := daemon.DefaultConfig()
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", defaults.Port, "TCP port to listen on")
	rootCmd.Flags().IntVarP(&flagDebug, "debug", "d", defaults.Debug, "debug verbosity level")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := daemon.DefaultConfig()
	cfg.Port = flagPort
	cfg.Debug = flagDebug

	logDir, err := config.LogDir()
	if err != nil {
		return fmt.Errorf("determine log dir: %w", err)
	}
	if err := config.EnsureDir(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "irkerd: cannot create log directory: %v\n", err)
	}

	level := slog.LevelInfo
	if flagDebug > 0 {
		level = slog.LevelDebug
	}

	logger, logCleanup, logErr := logging.Setup(logDir, level, flagDebug > 0)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "irkerd: cannot set up file logging: %v\n", logErr)
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logCleanup = func() {}
	}
	defer logCleanup()

	d := daemon.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
