package relaypool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		want    Relay
		wantErr bool
	}{
		{name: "plain", entry: "1.2.3.4:8080", want: Relay{Address: "1.2.3.4", Port: 8080, Source: "s"}},
		{name: "kind", entry: "SOCKS5://1.2.3.4:1080", want: Relay{Address: "1.2.3.4", Port: 1080, Source: "s", Kind: "socks5"}},
		{name: "ipv6", entry: "[::1]:3128", want: Relay{Address: "::1", Port: 3128, Source: "s"}},
		{name: "hostname", entry: " proxy.local:3128 ", want: Relay{Address: "proxy.local", Port: 3128, Source: "s"}},
		{name: "missing port", entry: "1.2.3.4", wantErr: true},
		{name: "port zero", entry: "1.2.3.4:0", wantErr: true},
		{name: "port too large", entry: "1.2.3.4:70000", wantErr: true},
		{name: "non numeric port", entry: "1.2.3.4:http", wantErr: true},
		{name: "empty host", entry: ":80", wantErr: true},
		{name: "empty scheme", entry: "://1.2.3.4:80", wantErr: true},
		{name: "empty", entry: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntry(tt.entry, "s")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelayStringIPv6(t *testing.T) {
	r := Relay{Address: "::1", Port: 3128}
	assert.Equal(t, "[::1]:3128", r.String())
}

func TestRegistryUnknownSource(t *testing.T) {
	reg, err := NewRegistry(map[string]Policy{"a": DefaultPolicy()}, nil)
	require.NoError(t, err)

	_, _, err = reg.Select("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Penalize("missing", "1.2.3.4:1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.AddMany("missing", []string{"1.2.3.4:1"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Clear("missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = reg.Statistics("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = reg.Select("")
	assert.ErrorIs(t, err, ErrNotFound, "empty key is not the default pool")
}

func TestRegistrySeedsEveryPool(t *testing.T) {
	reg, err := NewRegistry(map[string]Policy{"a": {}, "b": {FailureLimit: 1}},
		[]string{"10.0.0.1:80", "10.0.0.2:80"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", DefaultSource}, reg.Sources())

	for _, s := range reg.Sources() {
		p, err := reg.Pool(s)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Len())
	}

	b, err := reg.Pool("b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Policy().FailureLimit)
}

func TestRegistryPoolsAreIndependent(t *testing.T) {
	reg, err := NewRegistry(map[string]Policy{"a": {}}, []string{"10.0.0.1:80"})
	require.NoError(t, err)

	_, err = reg.Penalize("a", "10.0.0.1:80")
	require.NoError(t, err)

	stats, err := reg.Statistics(DefaultSource)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["10.0.0.1:80"])

	n, err := reg.Clear("a", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := reg.Select(DefaultSource)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistryRejectsMalformedSeed(t *testing.T) {
	_, err := NewRegistry(nil, []string{"nope"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRegistrySnapshotRestoreAll(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry(map[string]Policy{"a": {}}, []string{"10.0.0.1:80"})
	require.NoError(t, err)
	_, err = reg.Penalize("a", "10.0.0.1:80")
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, reg.SnapshotAll(ctx, store))

	fresh, err := NewRegistry(map[string]Policy{"a": {}, "c": {}}, nil)
	require.NoError(t, err)
	missing, err := fresh.RestoreAll(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, missing)

	stats, err := fresh.Statistics("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"10.0.0.1:80": 1}, stats)
}

func TestRegistryClearAll(t *testing.T) {
	reg, err := NewRegistry(map[string]Policy{"a": {}}, []string{"10.0.0.1:80", "10.0.0.2:80"})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.ClearAll([]string{"10.0.0.1:80"}))
	assert.Equal(t, 2, reg.ClearAll(nil))
}
