package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watcherTestConfig = `
backends:
  - http://127.0.0.1:3001
`

func TestWatcher_StartLoadsInitialConfig(t *testing.T) {
	path := writeConfigFile(t, watcherTestConfig)

	watcher, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	cfg := watcher.LastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"http://127.0.0.1:3001"}, cfg.Backends)
}

func TestWatcher_StartFailsOnInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
listen:
  port: -1
`)

	watcher, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, watcher.Start(context.Background()))
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	path := writeConfigFile(t, watcherTestConfig)

	var (
		mu     sync.Mutex
		reload *Config
	)

	watcher, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		reload = cfg
		mu.Unlock()
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	updated := watcherTestConfig + "  - http://127.0.0.1:3002\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reload != nil && len(reload.Backends) == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_InvalidReloadKeepsLastConfig(t *testing.T) {
	path := writeConfigFile(t, watcherTestConfig)

	var callbacks int
	var mu sync.Mutex

	watcher, err := NewWatcher(path, func(*Config) {
		mu.Lock()
		callbacks++
		mu.Unlock()
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	defer func() { _ = watcher.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("listen: {port: -5}\n"), 0o600))

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, callbacks, "invalid config must not reach the callback")
	assert.Equal(t, []string{"http://127.0.0.1:3001"}, watcher.LastConfig().Backends)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeConfigFile(t, watcherTestConfig)

	watcher, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	require.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestWatcher_StartAfterStopFails(t *testing.T) {
	path := writeConfigFile(t, watcherTestConfig)

	watcher, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	require.NoError(t, watcher.Stop())

	assert.ErrorIs(t, watcher.Start(context.Background()), ErrWatcherStopped)
}
