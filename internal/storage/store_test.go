package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRelays() []relaypool.Relay {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []relaypool.Relay{
		{Address: "10.0.0.1", Port: 80, Source: "s"},
		{Address: "10.0.0.2", Port: 1080, Source: "s", Kind: "socks5", AvailableAt: at, Failures: 3},
		{Address: "::1", Port: 3128, Source: "s", Failures: 1},
	}
}

func assertSameRelays(t *testing.T, want, got []relaypool.Relay) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].String(), got[i].String())
		assert.Equal(t, want[i].Source, got[i].Source)
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].Failures, got[i].Failures)
		assert.True(t, want[i].AvailableAt.Equal(got[i].AvailableAt), "available_at of %s", want[i])
	}
}

func TestRecordRoundTrip(t *testing.T) {
	data, err := encodeSnapshot("s", sampleRelays(), time.Now())
	require.NoError(t, err)

	got, err := decodeSnapshot("s", data)
	require.NoError(t, err)
	assertSameRelays(t, sampleRelays(), got)
}

func TestRecordRejects(t *testing.T) {
	data, err := encodeSnapshot("s", sampleRelays(), time.Now())
	require.NoError(t, err)

	_, err = decodeSnapshot("other", data)
	assert.ErrorContains(t, err, "belongs to source")

	_, err = decodeSnapshot("s", []byte(`{"version":2,"source":"s","relays":[]}`))
	assert.ErrorContains(t, err, "unsupported snapshot version")

	_, err = decodeSnapshot("s", []byte(`{"version":1,"source":"s","relays":[{"address":"x","port":0}]}`))
	assert.ErrorContains(t, err, "invalid endpoint")

	_, err = decodeSnapshot("s", []byte(`not json`))
	assert.ErrorContains(t, err, "decode snapshot")
}

func testBackend(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.Load(ctx, "s")
	assert.ErrorIs(t, err, relaypool.ErrNoSnapshot)

	require.NoError(t, b.Save(ctx, "s", sampleRelays()))
	got, err := b.Load(ctx, "s")
	require.NoError(t, err)
	assertSameRelays(t, sampleRelays(), got)

	// Overwrite with a smaller set.
	require.NoError(t, b.Save(ctx, "s", sampleRelays()[:1]))
	got, err = b.Load(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, b.Save(ctx, "t", nil))
	got, err = b.Load(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, got)

	sources, err := b.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "t"}, sources)

	assert.NoError(t, b.Ping(ctx))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	testBackend(t, s)

	path, err := s.Path("s")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "proxies_s.json"), path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files are cleaned up")
	}
}

func TestFileStoreRejectsPathSource(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	err = s.Save(context.Background(), "../escape", nil)
	assert.ErrorContains(t, err, "not usable as a file name")
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proxies_s.json"), []byte("{"), 0o600))

	_, err = s.Load(context.Background(), "s")
	require.Error(t, err)
	assert.NotErrorIs(t, err, relaypool.ErrNoSnapshot)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "pool.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	testBackend(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "s", sampleRelays()))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Load(context.Background(), "s")
	require.NoError(t, err)
	assertSameRelays(t, sampleRelays(), got)
}

func TestSQLiteStoreRejectsMemory(t *testing.T) {
	_, err := NewSQLiteStore(":memory:")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("PROXYPOOL_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("PROXYPOOL_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Pool.Exec(ctx, "DELETE FROM pool_snapshots WHERE source IN ('s', 't')")
	require.NoError(t, err)
	testBackend(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, config.StorageConfig{Backend: config.BackendNone})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = Open(ctx, config.StorageConfig{Backend: config.BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "file", b.Name())

	_, err = Open(ctx, config.StorageConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestPoolSnapshotThroughFileStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	p := relaypool.New("s", relaypool.DefaultPolicy())
	_, err = p.AddMany([]string{"10.0.0.1:80", "http://10.0.0.2:8080"})
	require.NoError(t, err)
	_, err = p.Penalize("10.0.0.2:8080")
	require.NoError(t, err)
	require.NoError(t, p.Snapshot(ctx, s))

	q := relaypool.New("s", relaypool.DefaultPolicy())
	require.NoError(t, q.Restore(ctx, s))
	assert.Equal(t, p.Statistics(), q.Statistics())

	missing := relaypool.New("nothing", relaypool.DefaultPolicy())
	err = missing.Restore(ctx, s)
	assert.ErrorIs(t, err, relaypool.ErrPersistence)
	assert.ErrorIs(t, err, relaypool.ErrNoSnapshot)
}
