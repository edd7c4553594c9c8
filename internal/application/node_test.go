package application

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInitialList(t *testing.T) {
	entries, err := readInitialList("")
	require.NoError(t, err)
	assert.Nil(t, entries)

	path := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.1.1.1:80\n  2.2.2.2:81\t3.3.3.3:82\n\n"), 0o600))
	entries, err = readInitialList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:81", "3.3.3.3:82"}, entries)

	_, err = readInitialList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func nodeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithoutLogger("")
	require.NoError(t, err)

	seed := filepath.Join(t.TempDir(), "seed.txt")
	require.NoError(t, os.WriteFile(seed, []byte("1.1.1.1:80\n"), 0o600))

	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.RateLimit.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Pools.InitialList = seed
	cfg.Storage.Backend = "file"
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.PersistInterval = 0
	return cfg
}

func TestNodeLifecyclePersistsPools(t *testing.T) {
	cfg := nodeConfig(t)

	node, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, node.Store())
	require.NoError(t, node.Start(context.Background()))

	resp, err := http.Get("http://" + node.Addr() + "/bad_proxy?proxy=1.1.1.1")
	require.NoError(t, err)
	var body struct {
		Penalized int `json:"penalized"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, 1, body.Penalized)

	node.Shutdown()
	require.NoError(t, node.Wait())

	restored, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Start(context.Background()))
	defer restored.Shutdown()

	stats, err := restored.Registry.Statistics(relaypool.DefaultSource)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1.1.1.1:80": 1}, stats)
}

func TestFinalSnapshotOutlivesShutdownTimeout(t *testing.T) {
	cfg := nodeConfig(t)
	cfg.Server.ShutdownTimeout = time.Nanosecond

	node, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))

	_, err = node.Registry.Penalize(relaypool.DefaultSource, "1.1.1.1:80")
	require.NoError(t, err)
	node.Shutdown()

	relays, err := node.Store().Load(context.Background(), relaypool.DefaultSource)
	require.NoError(t, err, "final snapshot must be written even when the drain timed out")
	require.Len(t, relays, 1)
	assert.Equal(t, 1, relays[0].Failures)
}

func TestNodeWithoutPersistence(t *testing.T) {
	cfg := nodeConfig(t)
	cfg.Storage.Backend = "none"

	node, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, node.Store())
	assert.Same(t, cfg, node.Config())

	require.NoError(t, node.Start(context.Background()))
	defer node.Shutdown()

	resp, err := http.Get("http://" + node.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	first, err := New(context.Background(), nodeConfig(t))
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown()

	cfg := nodeConfig(t)
	cfg.Server.Addr = first.Addr()
	second, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Error(t, second.Start(context.Background()))
	second.Shutdown()
}
