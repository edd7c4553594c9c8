package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Shugur-Network/proxypool/internal/config"
	"github.com/Shugur-Network/proxypool/internal/constants"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/Shugur-Network/proxypool/internal/workers"
	"github.com/willf/bloom"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// target binds a feed to the pool its entries go to.
type target struct {
	feed   Feed
	source string
	kind   string
}

// Discoverer periodically pulls relay lists from feeds into the registry.
// A bloom filter remembers entries already submitted so repeated feed
// contents cost no pool locking. A false positive only delays an entry to
// the next restart.
type Discoverer struct {
	registry *relaypool.Registry
	targets  []target
	workers  int
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	round sync.Mutex // one round at a time

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// New builds a Discoverer from cfg. Feeds with a URL use client (nil means a
// client with cfg.Timeout); feeds with a Path read the local file.
func New(cfg config.DiscoveryConfig, registry *relaypool.Registry, client *http.Client, logger *zap.Logger) (*Discoverer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DiscoveryFeedTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	d := &Discoverer{
		registry: registry,
		workers:  cfg.Workers,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger.Named("discovery"),
		seen:     bloom.NewWithEstimates(cfg.BloomCapacity, cfg.BloomFalsePositive),
	}
	for _, fc := range cfg.Feeds {
		source := fc.Source
		if source == "" {
			source = relaypool.DefaultSource
		}
		if _, err := registry.Pool(source); err != nil {
			return nil, fmt.Errorf("feed %s: %w", fc.Name, err)
		}
		var feed Feed
		switch {
		case fc.URL != "":
			feed = NewHTTPFeed(fc.Name, fc.URL, client)
		case fc.Path != "":
			feed = NewFileFeed(fc.Name, fc.Path)
		default:
			return nil, fmt.Errorf("feed %s: neither url nor path set", fc.Name)
		}
		d.AddFeed(feed, source, fc.Kind)
	}
	return d, nil
}

// AddFeed registers an extra feed. It must be called before Run.
func (d *Discoverer) AddFeed(feed Feed, source, kind string) {
	d.targets = append(d.targets, target{feed: feed, source: source, kind: kind})
}

// Discover runs one round over every feed and returns how many relays were
// added in total. Feed failures are combined into the returned error; the
// other feeds' results still count.
func (d *Discoverer) Discover(ctx context.Context) (int, error) {
	d.round.Lock()
	defer d.round.Unlock()

	pool := workers.NewWorkerPool(d.workers, len(d.targets))
	defer pool.Stop()

	var (
		mu    sync.Mutex
		added int
		errs  error
	)
	for _, t := range d.targets {
		err := pool.Submit(ctx, func() {
			n, err := d.collect(ctx, t)
			mu.Lock()
			added += n
			errs = multierr.Append(errs, err)
			mu.Unlock()
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			break
		}
	}
	pool.Wait()

	if errs != nil {
		metrics.IncrementErrorCount("discovery")
	}
	d.logger.Info("Discovery round finished",
		zap.Int("feeds", len(d.targets)),
		zap.Int("added", added),
		zap.Error(errs))
	return added, errs
}

// collect fetches one feed and adds its unseen, well-formed entries.
func (d *Discoverer) collect(ctx context.Context, t target) (int, error) {
	name := t.feed.Name()
	fetchCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	entries, err := t.feed.Fetch(fetchCtx)
	if err != nil {
		metrics.DiscoveryFetches.WithLabelValues(name, "error").Inc()
		d.logger.Warn("Feed fetch failed", zap.String("feed", name), zap.Error(err))
		return 0, err
	}
	metrics.DiscoveryFetches.WithLabelValues(name, "ok").Inc()

	var fresh []string
	var seen, malformed int
	for _, e := range entries {
		if t.kind != "" && !strings.Contains(e, "://") {
			e = t.kind + "://" + e
		}
		if _, err := relaypool.ParseEntry(e, t.source); err != nil {
			malformed++
			continue
		}
		if d.testAndAdd(t.source + "|" + e) {
			seen++
			continue
		}
		fresh = append(fresh, e)
	}
	metrics.DiscoveryCandidates.WithLabelValues(name, "seen").Add(float64(seen))
	metrics.DiscoveryCandidates.WithLabelValues(name, "malformed").Add(float64(malformed))
	if malformed > 0 {
		d.logger.Debug("Feed returned malformed entries", zap.String("feed", name), zap.Int("count", malformed))
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	n, err := d.registry.AddMany(t.source, fresh)
	if err != nil {
		return 0, fmt.Errorf("feed %s: %w", name, err)
	}
	metrics.DiscoveryCandidates.WithLabelValues(name, "new").Add(float64(n))
	return n, nil
}

func (d *Discoverer) testAndAdd(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.TestAndAddString(key)
}

// Forget empties the seen filter so the next round resubmits everything.
func (d *Discoverer) Forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.ClearAll()
}

// Run performs a round immediately and then every interval until ctx is
// cancelled.
func (d *Discoverer) Run(ctx context.Context) {
	if len(d.targets) == 0 {
		d.logger.Info("Discovery has no feeds, not starting")
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Discover(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("Discovery round had errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
