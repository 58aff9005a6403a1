package daemon

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boklm/irkerd/internal/config"
)

func TestDefaultConfigMatchesOriginalConstants(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 4747, cfg.Port)
	assert.Equal(t, 18, cfg.ConnectMax)
	assert.Equal(t, 0, cfg.Debug)
}

func TestRunWritesAndRemovesPIDFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("IRKERD_CONFIG_DIR", dir)

	cfg := DefaultConfig()
	cfg.Port = freePort(t)
	cfg.ShutdownTimeout = time.Second
	d := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	pidPath, err := config.PIDFilePath()
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "pid file should be removed after shutdown")
}

func TestRunReturnsErrorOnBindFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("IRKERD_CONFIG_DIR", dir)

	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()

	port := blocker.Addr().(*net.TCPAddr).Port
	cfg := DefaultConfig()
	cfg.Port = port
	d := New(cfg, nil)

	err = d.Run(context.Background())
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
