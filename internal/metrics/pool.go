package metrics

import (
	"sync/atomic"
	"time"

	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global sliding windows for rate calculations
var (
	selectionWindow = NewSlidingWindow(60*time.Second, 100000)
	penaltyWindow   = NewSlidingWindow(60*time.Second, 100000)
)

// Global counters for the stats feed (prometheus metrics can't be read back)
var (
	selectionsCount int64
	exhaustedCount  int64
	penaltiesCount  int64
	errorCount      int64
)

// Metrics for tracking pool behaviour
var (
	PoolRelays = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxypool_relays",
		Help: "Relays stored per source, soft-banned ones included",
	}, []string{"source"})

	PoolEligible = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxypool_relays_eligible",
		Help: "Relays selectable right now per source",
	}, []string{"source"})

	Selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_selections_total",
		Help: "Select calls by source and result",
	}, []string{"source", "result"}) // "selected", "exhausted"

	OverLimitSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_over_limit_skips_total",
		Help: "Soft-banned relays bypassed by selection, summed per Select call",
	}, []string{"source"})

	Penalties = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_penalties_total",
		Help: "Relays penalized after a reported failure",
	}, []string{"source"})

	RelaysAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_relays_added_total",
		Help: "Relays added by upload, seed or discovery",
	}, []string{"source"})

	RelaysRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_relays_removed_total",
		Help: "Relays removed by clear",
	}, []string{"source"})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxypool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"route"})

	StatsSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxypool_stats_subscribers",
		Help: "Open WebSocket stats feed connections",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"reason"}) // "rate", "banned"

	// Error metrics
	ErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_errors_total",
		Help: "The total number of errors by type",
	}, []string{"type"})

	// Storage metrics
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_store_operations_total",
		Help: "Snapshot store operations by backend, operation and result",
	}, []string{"backend", "operation", "result"})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxypool_store_operation_duration_seconds",
		Help:    "Snapshot store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 7),
	}, []string{"backend", "operation"})

	DBConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_db_connections_total",
		Help: "Total number of database connections by status",
	}, []string{"status"}) // "success", "failure", "closed"

	// Discovery metrics
	DiscoveryFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_discovery_fetches_total",
		Help: "Discovery feed fetches by feed and result",
	}, []string{"feed", "result"})

	DiscoveryCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxypool_discovery_candidates_total",
		Help: "Discovered entries by feed and outcome",
	}, []string{"feed", "outcome"}) // "new", "seen", "malformed"
)

// PoolObserver feeds relaypool events into the metrics above.
type PoolObserver struct{}

var _ relaypool.Observer = PoolObserver{}

func (PoolObserver) Selected(source string) {
	Selections.WithLabelValues(source, "selected").Inc()
	atomic.AddInt64(&selectionsCount, 1)
	selectionWindow.Add()
}

func (PoolObserver) Exhausted(source string) {
	Selections.WithLabelValues(source, "exhausted").Inc()
	atomic.AddInt64(&exhaustedCount, 1)
}

func (PoolObserver) Skipped(source string, n int) {
	OverLimitSkips.WithLabelValues(source).Add(float64(n))
}

func (PoolObserver) Penalized(source string, n int) {
	Penalties.WithLabelValues(source).Add(float64(n))
	atomic.AddInt64(&penaltiesCount, int64(n))
	penaltyWindow.Add()
}

func (PoolObserver) Added(source string, n int) {
	RelaysAdded.WithLabelValues(source).Add(float64(n))
}

func (PoolObserver) Removed(source string, n int) {
	RelaysRemoved.WithLabelValues(source).Add(float64(n))
}

// ObservePool publishes the size gauges of one pool.
func ObservePool(source string, total, eligible int) {
	PoolRelays.WithLabelValues(source).Set(float64(total))
	PoolEligible.WithLabelValues(source).Set(float64(eligible))
}

// IncrementErrorCount counts one error of errType.
func IncrementErrorCount(errType string) {
	ErrorsCount.WithLabelValues(errType).Inc()
	atomic.AddInt64(&errorCount, 1)
}

// Totals is a point-in-time view of the process counters.
type Totals struct {
	Selections          int64   `json:"selections"`
	Exhausted           int64   `json:"exhausted"`
	Penalties           int64   `json:"penalties"`
	Errors              int64   `json:"errors"`
	SelectionsPerSecond float64 `json:"selections_per_second"`
	PenaltiesPerSecond  float64 `json:"penalties_per_second"`
}

// GetTotals returns the process counters since start.
func GetTotals() Totals {
	return Totals{
		Selections:          atomic.LoadInt64(&selectionsCount),
		Exhausted:           atomic.LoadInt64(&exhaustedCount),
		Penalties:           atomic.LoadInt64(&penaltiesCount),
		Errors:              atomic.LoadInt64(&errorCount),
		SelectionsPerSecond: selectionWindow.Rate(),
		PenaltiesPerSecond:  penaltyWindow.Rate(),
	}
}

// RegisterMetrics pre-registers label values so dashboards see zeroes
// before the first event.
func RegisterMetrics(sources []string) {
	for _, source := range sources {
		Selections.WithLabelValues(source, "selected")
		Selections.WithLabelValues(source, "exhausted")
		OverLimitSkips.WithLabelValues(source)
		Penalties.WithLabelValues(source)
		RelaysAdded.WithLabelValues(source)
		RelaysRemoved.WithLabelValues(source)
		PoolRelays.WithLabelValues(source)
		PoolEligible.WithLabelValues(source)
	}

	errorTypes := []string{"validation", "not_found", "persistence", "rate_limit", "internal", "discovery"}
	for _, errType := range errorTypes {
		ErrorsCount.WithLabelValues(errType)
	}

	for _, status := range []string{"success", "failure", "closed"} {
		DBConnections.WithLabelValues(status)
	}
	for _, reason := range []string{"rate", "banned"} {
		RateLimited.WithLabelValues(reason)
	}
}
