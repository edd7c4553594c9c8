package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithoutLogger("")
	require.NoError(t, err)

	assert.Equal(t, ":8765", cfg.Server.Addr)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Pools.Default.DefaultCooldown)
	assert.Equal(t, 300*time.Second, cfg.Pools.Default.FailureCooldown)
	assert.Equal(t, 5, cfg.Pools.Default.FailureLimit)
	assert.False(t, cfg.Discovery.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
pools:
  default:
    failure_limit: 3
  sources:
    google:
      failure_cooldown: 10m
    bing: {}
storage:
  backend: sqlite
  sqlite_path: /tmp/pp.db
`)
	cfg, err := LoadWithoutLogger(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)

	policies := cfg.Pools.Policies()
	require.Len(t, policies, 3)
	assert.Equal(t, relaypool.Policy{
		DefaultCooldown: 30 * time.Second,
		FailureCooldown: 300 * time.Second,
		FailureLimit:    3,
	}, policies[DefaultSourceKey])
	assert.Equal(t, relaypool.Policy{
		DefaultCooldown: 30 * time.Second,
		FailureCooldown: 10 * time.Minute,
		FailureLimit:    3,
	}, policies["google"])
	assert.Equal(t, policies[DefaultSourceKey], policies["bing"])
}

func TestLoadDottedSourceKeys(t *testing.T) {
	path := writeConfig(t, `
pools:
  sources:
    avito.ru:
      failure_limit: 2
    auto.ru: {}
`)
	cfg, err := LoadWithoutLogger(path)
	require.NoError(t, err)

	policies := cfg.Pools.Policies()
	require.Contains(t, policies, "avito.ru")
	require.Contains(t, policies, "auto.ru")
	assert.Equal(t, 2, policies["avito.ru"].FailureLimit)
	assert.Equal(t, 5, policies["auto.ru"].FailureLimit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROXYPOOL_SERVER_ADDR", "127.0.0.1:9000")
	cfg, err := LoadWithoutLogger("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown backend",
			body: "storage:\n  backend: redis\n",
			want: "must be one of",
		},
		{
			name: "postgres without url",
			body: "storage:\n  backend: postgres\n",
			want: "required when the storage backend is \"postgres\"",
		},
		{
			name: "metrics on api port",
			body: "server:\n  addr: \":2112\"\n",
			want: "metrics port conflicts",
		},
		{
			name: "bad source key",
			body: "pools:\n  sources:\n    all: {}\n",
			want: "lowercase source key",
		},
		{
			name: "source key with empty label",
			body: "pools:\n  sources:\n    avito..ru: {}\n",
			want: "lowercase source key",
		},
		{
			name: "bad listen addr",
			body: "server:\n  addr: \"localhost\"\n",
			want: "listen address",
		},
		{
			name: "discovery without feeds",
			body: "discovery:\n  enabled: true\n",
			want: "no feeds are configured",
		},
		{
			name: "feed for unknown source",
			body: "discovery:\n  enabled: true\n  feeds:\n    - name: a\n      url: http://example.com/list\n      source: nope\n",
			want: "not configured under pools.sources",
		},
		{
			name: "feed with url and path",
			body: "discovery:\n  enabled: true\n  feeds:\n    - name: a\n      url: http://example.com/list\n      path: /tmp/list\n",
			want: "exactly one of url or path",
		},
		{
			name: "unknown key",
			body: "server:\n  bogus: 1\n",
			want: "unmarshal config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithoutLogger(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
