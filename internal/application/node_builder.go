package application

import (
	"context"
	"fmt"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/discovery"
	"github.com/Shugur-Network/proxypool/internal/health"
	"github.com/Shugur-Network/proxypool/internal/limiter"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/storage"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// NodeBuilder is used to incrementally construct a Node instance.
type NodeBuilder struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	clock  clock.Clock

	registry    *relaypool.Registry
	store       storage.Backend
	rateLimiter *limiter.RateLimiter
	discoverer  *discovery.Discoverer
	health      *health.HealthChecker
}

// NewNodeBuilder creates a new NodeBuilder with its own cancelable context.
func NewNodeBuilder(ctx context.Context, cfg *config.Config) *NodeBuilder {
	c, cancel := context.WithCancel(ctx)
	return &NodeBuilder{
		ctx:    c,
		cancel: cancel,
		config: cfg,
		clock:  clock.New(),
	}
}

// BuildRegistry creates one pool per configured source and seeds each with
// the initial list.
func (b *NodeBuilder) BuildRegistry() error {
	initial, err := readInitialList(b.config.Pools.InitialList)
	if err != nil {
		return err
	}

	policies := b.config.Pools.Policies()
	registry, err := relaypool.NewRegistry(policies, initial,
		relaypool.WithClock(b.clock),
		relaypool.WithLogger(logger.New("relaypool")),
		relaypool.WithObserver(metrics.PoolObserver{}),
	)
	if err != nil {
		return fmt.Errorf("failed to build pools: %w", err)
	}
	b.registry = registry

	logger.Info("Pools ready",
		zap.Strings("sources", registry.Sources()),
		zap.Int("initial_relays", len(initial)))
	return nil
}

// BuildStore opens the configured snapshot backend. Backend "none" leaves
// the store nil.
func (b *NodeBuilder) BuildStore() error {
	store, err := storage.Open(b.ctx, b.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", b.config.Storage.Backend, err)
	}
	b.store = store
	if store == nil {
		logger.Info("Persistence disabled")
		return nil
	}
	logger.Info("Snapshot store ready", zap.String("backend", store.Name()))
	return nil
}

// BuildRateLimiter sets up the API rate limiter when enabled.
func (b *NodeBuilder) BuildRateLimiter() {
	if !b.config.Server.RateLimit.Enabled {
		return
	}
	b.rateLimiter = limiter.NewRateLimiter(b.config.Server.RateLimit, b.clock)
}

// BuildDiscovery sets up feed discovery when enabled.
func (b *NodeBuilder) BuildDiscovery() error {
	if !b.config.Discovery.Enabled {
		return nil
	}
	d, err := discovery.New(b.config.Discovery, b.registry, nil, logger.New("discovery"))
	if err != nil {
		return fmt.Errorf("failed to build discovery: %w", err)
	}
	b.discoverer = d
	return nil
}

// BuildHealth sets up the health checker.
func (b *NodeBuilder) BuildHealth() {
	b.health = health.NewHealthChecker(b.store, b.registry, logger.New("health"), config.Version)
}

// Build finalizes the node construction.
func (b *NodeBuilder) Build() (*Node, error) {
	if b.registry == nil {
		b.cancel()
		return nil, fmt.Errorf("registry must be built before calling Build()")
	}
	if b.health == nil {
		b.cancel()
		return nil, fmt.Errorf("health checker must be built before calling Build()")
	}

	metrics.RegisterMetrics(b.registry.Sources())

	node := &Node{
		ctx:         b.ctx,
		cancel:      b.cancel,
		config:      b.config,
		Registry:    b.registry,
		store:       b.store,
		Discoverer:  b.discoverer,
		rateLimiter: b.rateLimiter,
		health:      b.health,
		clock:       b.clock,
	}
	logger.Debug("Node initialized successfully via builder")
	return node, nil
}

// abort releases what the builder has opened so far.
func (b *NodeBuilder) abort() {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	b.cancel()
}
