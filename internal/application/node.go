package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/discovery"
	"github.com/Shugur-Network/proxypool/internal/health"
	"github.com/Shugur-Network/proxypool/internal/limiter"
	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/storage"
	"github.com/Shugur-Network/proxypool/internal/web"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// limiterIdle is how long an idle client stays in the rate limiter.
const limiterIdle = 10 * time.Minute

// Node ties together the pools, their snapshot store and the servers in
// front of them.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	config     *config.Config
	Registry   *relaypool.Registry
	Discoverer *discovery.Discoverer

	store       storage.Backend
	rateLimiter *limiter.RateLimiter
	health      *health.HealthChecker
	clock       clock.Clock

	api     *http.Server
	apiAddr string
	metrics *http.Server
	group   *errgroup.Group

	startTime time.Time
}

// New creates and configures a Node using the NodeBuilder pattern.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	builder := NewNodeBuilder(ctx, cfg)

	if err := builder.BuildRegistry(); err != nil {
		builder.abort()
		return nil, err
	}
	if err := builder.BuildStore(); err != nil {
		builder.abort()
		return nil, err
	}
	builder.BuildRateLimiter()
	if err := builder.BuildDiscovery(); err != nil {
		builder.abort()
		return nil, err
	}
	builder.BuildHealth()

	node, err := builder.Build()
	if err != nil {
		builder.abort()
		return nil, fmt.Errorf("failed to build node: %w", err)
	}
	return node, nil
}

// Start restores saved state, binds the listeners and launches the
// background loops. It returns once everything is serving; listener errors
// are returned directly.
func (n *Node) Start(ctx context.Context) error {
	n.startTime = n.clock.Now()

	if n.store != nil && n.config.Storage.RestoreOnStart {
		n.restore(ctx)
	}

	apiLn, err := net.Listen("tcp", n.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.config.Server.Addr, err)
	}

	srv := web.NewServer(n.config.Server, n.Registry, logger.New("web"))
	srv.Store = n.store
	srv.Health = n.health.HandleHealth
	srv.Limiter = n.rateLimiter
	if n.Discoverer != nil {
		srv.Discoverer = n.Discoverer
	}
	n.api = srv.HTTPServer()
	n.apiAddr = apiLn.Addr().String()

	var metricsLn net.Listener
	if n.config.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", n.config.Metrics.Port)
		metricsLn, err = net.Listen("tcp", addr)
		if err != nil {
			apiLn.Close()
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle(n.config.Metrics.Path, promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer,
			promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
		))
		n.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: n.config.Server.ReadTimeout}
	}

	g, gctx := errgroup.WithContext(n.ctx)
	n.group = g

	g.Go(func() error { return serve(n.api, apiLn) })
	if n.metrics != nil {
		g.Go(func() error { return serve(n.metrics, metricsLn) })
	}
	g.Go(func() error {
		n.refreshGauges(gctx)
		return nil
	})
	if n.store != nil && n.config.Storage.PersistInterval > 0 {
		g.Go(func() error {
			n.persistLoop(gctx)
			return nil
		})
	}
	if n.rateLimiter != nil {
		g.Go(func() error {
			n.rateLimiter.Run(gctx, time.Minute, limiterIdle)
			return nil
		})
	}
	if n.Discoverer != nil {
		g.Go(func() error {
			n.Discoverer.Run(gctx)
			return nil
		})
	}

	logger.Info("Proxy pool started",
		zap.String("api_addr", n.apiAddr),
		zap.Bool("metrics", n.metrics != nil),
		zap.Bool("discovery", n.Discoverer != nil),
		zap.Bool("persistence", n.store != nil))
	return nil
}

// Wait blocks until a server fails or the node is shut down.
func (n *Node) Wait() error {
	if n.group == nil {
		return nil
	}
	return n.group.Wait()
}

// Shutdown stops the servers, drains background loops, writes a final
// snapshot and closes the store.
func (n *Node) Shutdown() {
	logger.Info("Initiating graceful shutdown...")
	shutdownTimeout := n.config.Server.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErrors []error

	for _, srv := range []*http.Server{n.api, n.metrics} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
	}

	n.cancel()
	if n.group != nil {
		done := make(chan error, 1)
		go func() { done <- n.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				shutdownErrors = append(shutdownErrors, err)
			}
		case <-shutdownCtx.Done():
			shutdownErrors = append(shutdownErrors, fmt.Errorf("background loops did not stop within %v", shutdownTimeout))
		}
	}

	if n.store != nil {
		if n.config.Storage.SaveOnShutdown {
			// The drain above may have used up shutdownCtx.
			snapCtx, snapCancel := context.WithTimeout(context.Background(), constants.SnapshotTimeout)
			err := n.Registry.SnapshotAll(snapCtx, n.store)
			snapCancel()
			if err != nil {
				shutdownErrors = append(shutdownErrors, err)
			} else {
				logger.Info("Final snapshot written", zap.String("backend", n.store.Name()))
			}
		}
		if err := n.store.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, err)
		}
	}

	if len(shutdownErrors) > 0 {
		logger.Warn("Node shutdown completed with errors",
			zap.Int("error_count", len(shutdownErrors)),
			zap.Errors("errors", shutdownErrors))
		return
	}
	logger.Info("Node shutdown completed successfully",
		zap.Duration("uptime", n.clock.Since(n.startTime)))
}

// restore loads every pool's saved state. Pools without a snapshot keep
// their seed; failures are logged and the pools keep serving.
func (n *Node) restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, constants.SnapshotTimeout)
	defer cancel()

	missing, err := n.Registry.RestoreAll(ctx, n.store)
	if err != nil {
		logger.Warn("Restore finished with errors", zap.Error(err))
	}
	logger.Info("Pools restored",
		zap.String("backend", n.store.Name()),
		zap.Strings("without_snapshot", missing))
}

func (n *Node) persistLoop(ctx context.Context) {
	ticker := n.clock.Ticker(n.config.Storage.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, constants.SnapshotTimeout)
			if err := n.Registry.SnapshotAll(sctx, n.store); err != nil {
				logger.Warn("Periodic snapshot failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// refreshGauges keeps the per-pool size gauges current between requests.
func (n *Node) refreshGauges(ctx context.Context) {
	ticker := n.clock.Ticker(n.config.Server.StatsInterval)
	defer ticker.Stop()
	for {
		n.observePools()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Node) observePools() {
	for _, source := range n.Registry.Sources() {
		pool, err := n.Registry.Pool(source)
		if err != nil {
			continue
		}
		metrics.ObservePool(source, pool.Len(), pool.Eligible())
	}
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
