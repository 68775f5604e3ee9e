package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, block bool) {
	t.Helper()
	data := fmt.Sprintf("blockOrders: %v\nvenues:\n  bitstamp:\n    key: k\n", block)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c Config) { changes <- c })
	}()

	// watcher 注册与写事件之间有竞争，稍候再改文件
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, true)

	select {
	case cfg := <-changes:
		require.True(t, cfg.BlockOrders)
		require.Contains(t, cfg.Venues, "bitstamp")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within deadline")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 1)
	go func() {
		_ = Watch(ctx, path, func(c Config) { changes <- c })
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	select {
	case <-changes:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}
