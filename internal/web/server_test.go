package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/errors"
	"github.com/Shugur-Network/proxypool/internal/limiter"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDiscoverer struct{ added int }

func (d fakeDiscoverer) Discover(context.Context) (int, error) { return d.added, nil }
func (fakeDiscoverer) Forget()                                  {}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:          ":0",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		IdleTimeout:   time.Minute,
		StatsInterval: 50 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, initial ...string) *Server {
	t.Helper()
	reg, err := relaypool.NewRegistry(map[string]relaypool.Policy{
		"shop": relaypool.DefaultPolicy(),
	}, initial)
	require.NoError(t, err)
	return NewServer(testConfig(), reg, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetProxyDefaultSource(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80").Router()

	rec := do(t, h, http.MethodGet, "/get_proxy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProxyResponse](t, rec)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "1.1.1.1:80", resp.Address)
	assert.Zero(t, resp.BadRequest)
	assert.NotEmpty(t, rec.Header().Get(errors.RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, h, http.MethodGet, "/get_proxy", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "FAIL", decode[ProxyResponse](t, rec).Status)
}

func TestGetProxyUnknownSource(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80").Router()

	rec := do(t, h, http.MethodGet, "/get_proxy?source=nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[errors.ErrorResponse](t, rec)
	assert.Equal(t, "FAIL", resp.Status)
	assert.Equal(t, errors.ErrorTypeNotFound, resp.Error.Type)
}

func TestUploadThenGetReportsKind(t *testing.T) {
	h := newTestServer(t).Router()

	rec := do(t, h, http.MethodPost, "/upload_proxy",
		`{"source":"shop","proxies":["socks5://2.2.2.2:1080","2.2.2.2:1080"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ActionResponse](t, rec).Added)

	rec = do(t, h, http.MethodGet, "/get_proxy?source=shop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProxyResponse](t, rec)
	assert.Equal(t, "2.2.2.2:1080", resp.Address)
	assert.Equal(t, "socks5", resp.Type)
}

func TestUploadRejectsBadInput(t *testing.T) {
	h := newTestServer(t).Router()

	rec := do(t, h, http.MethodPost, "/upload_proxy", `{"proxies":["1.1.1.1:80","garbage"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MALFORMED_ENTRY", decode[errors.ErrorResponse](t, rec).Error.Code)

	rec = do(t, h, http.MethodPost, "/upload_proxy", `{"proxies":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/upload_proxy", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", decode[errors.ErrorResponse](t, rec).Error.Code)

	rec = do(t, h, http.MethodGet, "/get_proxy", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "failed upload adds nothing")
}

func TestBadProxyAndIndex(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80", "1.1.1.1:81", "3.3.3.3:80").Router()

	rec := do(t, h, http.MethodGet, "/bad_proxy", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/bad_proxy?proxy=9.9.9.9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/bad_proxy?proxy=1.1.1.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ActionResponse](t, rec).Penalized)

	rec = do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"source default\naddress\t\tbad_count\n1.1.1.1:80\t\t1\n1.1.1.1:81\t\t1\n3.3.3.3:80\t\t0\n",
		rec.Body.String())

	rec = do(t, h, http.MethodGet, "/?source=nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionsWithoutStore(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80").Router()

	for _, action := range []string{"load", "save", "discover"} {
		rec := do(t, h, http.MethodPost, "/action/"+action, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, action)
	}
	rec := do(t, h, http.MethodPost, "/action/explode", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearAllSavesAndLoadRestores(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := newTestServer(t, "1.1.1.1:80", "2.2.2.2:80")
	s.Store = store
	h := s.Router()

	rec := do(t, h, http.MethodPost, "/action/clear", `{"source":"ALL","proxies":["1.1.1.1:80"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[ActionResponse](t, rec).Removed)

	sources, err := store.Sources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "shop"}, sources)

	rec = do(t, h, http.MethodPost, "/upload_proxy", `{"proxies":["5.5.5.5:80"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/action/load", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[ActionResponse](t, rec).Missing)

	stats, err := s.Registry.Statistics(relaypool.DefaultSource)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2.2.2.2:80": 0}, stats, "load replaces the uploaded relay")

	rec = do(t, h, http.MethodPost, "/action/save", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClearSingleSource(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80").Router()

	rec := do(t, h, http.MethodPost, "/action/clear", `{"source":"shop"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ActionResponse](t, rec).Removed)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/get_proxy?source=shop", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/get_proxy", "").Code)
}

func TestDiscoverAction(t *testing.T) {
	s := newTestServer(t)
	s.Discoverer = fakeDiscoverer{added: 7}

	rec := do(t, s.Router(), http.MethodPost, "/action/discover", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[ActionResponse](t, rec).Added)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, "1.1.1.1:80")
	s.Limiter = limiter.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		BurstSize:         1,
	}, clock.NewMock())
	h := s.Router()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/", "").Code)
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode[errors.ErrorResponse](t, rec).Error.Code)
}

func TestStatsAPI(t *testing.T) {
	h := newTestServer(t, "1.1.1.1:80").Router()
	do(t, h, http.MethodGet, "/get_proxy?source=shop", "")

	rec := do(t, h, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatsResponse](t, rec)
	assert.Equal(t, PoolStats{Relays: 1, Eligible: 1, Statistics: map[string]int{"1.1.1.1:80": 0}},
		resp.Sources[relaypool.DefaultSource])
	assert.Equal(t, 0, resp.Sources["shop"].Eligible)
}

func TestUnknownRoute(t *testing.T) {
	rec := do(t, newTestServer(t).Router(), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FAIL", decode[errors.ErrorResponse](t, rec).Status)
}

func TestStatsFeed(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, "1.1.1.1:80").Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stats"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 2; i++ {
		var frame StatsResponse
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, 1, frame.Sources[relaypool.DefaultSource].Relays)
	}
}
