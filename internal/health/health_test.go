package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct{ err error }

func (fakeStore) Name() string                 { return "fake" }
func (s fakeStore) Ping(context.Context) error { return s.err }

func newRegistry(t *testing.T, initial ...string) *relaypool.Registry {
	t.Helper()
	reg, err := relaypool.NewRegistry(nil, initial)
	require.NoError(t, err)
	return reg
}

func component(t *testing.T, resp *HealthResponse, name string) *ComponentStatus {
	t.Helper()
	for _, c := range resp.Components {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("component %q missing", name)
	return nil
}

func TestCheckHealthWithoutStore(t *testing.T) {
	h := NewHealthChecker(nil, newRegistry(t, "1.1.1.1:80"), zap.NewNop(), "test")
	resp := h.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, component(t, resp, "store").Status)
	pools := component(t, resp, "pools")
	assert.Equal(t, StatusHealthy, pools.Status)
	assert.Equal(t, map[string]int{"relays": 1, "eligible": 1}, pools.Details[relaypool.DefaultSource])
}

func TestCheckHealthStarvedPool(t *testing.T) {
	reg := newRegistry(t, "1.1.1.1:80")
	_, ok, err := reg.Select(relaypool.DefaultSource)
	require.NoError(t, err)
	require.True(t, ok)

	h := NewHealthChecker(fakeStore{}, reg, zap.NewNop(), "test")
	resp := h.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, component(t, resp, "pools").Status)
	assert.NotEqual(t, StatusHealthy, resp.Status)
}

func TestHandleHealthStoreDown(t *testing.T) {
	h := NewHealthChecker(fakeStore{err: errors.New("disk gone")}, newRegistry(t), zap.NewNop(), "test")

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5e9))
	assert.Equal(t, "1m 1s", formatUptime(61e9))
	assert.Equal(t, "1d 0h 0m 0s", formatUptime(86400e9))
}
