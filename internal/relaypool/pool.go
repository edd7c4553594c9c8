package relaypool

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Default policy values.
const (
	DefaultCooldown        = 30 * time.Second
	DefaultFailureCooldown = 300 * time.Second
	DefaultFailureLimit    = 5
)

// Policy is the eligibility policy of one pool.
type Policy struct {
	DefaultCooldown time.Duration `json:"default_cooldown"`
	FailureCooldown time.Duration `json:"failure_cooldown"`
	FailureLimit    int           `json:"failure_limit"`
}

// DefaultPolicy returns the policy used when a source configures nothing.
func DefaultPolicy() Policy {
	return Policy{
		DefaultCooldown: DefaultCooldown,
		FailureCooldown: DefaultFailureCooldown,
		FailureLimit:    DefaultFailureLimit,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DefaultCooldown <= 0 {
		p.DefaultCooldown = d.DefaultCooldown
	}
	if p.FailureCooldown <= 0 {
		p.FailureCooldown = d.FailureCooldown
	}
	if p.FailureLimit <= 0 {
		p.FailureLimit = d.FailureLimit
	}
	return p
}

// Store is the durable target of pool snapshots. Load returns an error
// wrapping ErrNoSnapshot when nothing was ever saved for source.
type Store interface {
	Save(ctx context.Context, source string, relays []Relay) error
	Load(ctx context.Context, source string) ([]Relay, error)
}

// Observer receives pool events. Implementations must be safe for
// concurrent use and must not call back into the pool.
type Observer interface {
	Selected(source string)
	Exhausted(source string)
	Skipped(source string, n int)
	Penalized(source string, n int)
	Added(source string, n int)
	Removed(source string, n int)
}

type nopObserver struct{}

func (nopObserver) Selected(string)       {}
func (nopObserver) Exhausted(string)      {}
func (nopObserver) Skipped(string, int)   {}
func (nopObserver) Penalized(string, int) {}
func (nopObserver) Added(string, int)     {}
func (nopObserver) Removed(string, int)   {}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option { return func(p *Pool) { p.clock = c } }

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pool) { p.log = l } }

// WithObserver registers an event observer.
func WithObserver(o Observer) Option { return func(p *Pool) { p.obs = o } }

// Pool holds the relays of one source ordered by availability.
// Relays at or over the failure limit are kept aside in banned so Select
// never walks them. All methods are safe for concurrent use.
type Pool struct {
	source string
	policy Policy
	clock  clock.Clock
	log    *zap.Logger
	obs    Observer

	mu     sync.Mutex
	queue  relayQueue
	banned map[string]*queueItem
	index  map[string]*queueItem
	seq    uint64
}

// New creates an empty pool for source.
func New(source string, policy Policy, opts ...Option) *Pool {
	p := &Pool{
		source: source,
		policy: policy.withDefaults(),
		clock:  clock.New(),
		log:    zap.NewNop(),
		obs:    nopObserver{},
		banned: make(map[string]*queueItem),
		index:  make(map[string]*queueItem),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("source", source))
	return p
}

// Source returns the pool's source key.
func (p *Pool) Source() string { return p.source }

// Policy returns the pool's effective policy.
func (p *Pool) Policy() Policy { return p.policy }

// Len returns the number of stored relays, including soft-banned ones.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.index)
}

// Eligible returns how many relays could be selected right now.
func (p *Pool) Eligible() int {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, it := range p.queue {
		if it.relay.IsAvailable(now) {
			n++
		}
	}
	return n
}

// Select returns the most available relay that is under the failure limit
// and cools it down for the default window. It returns false when no relay
// is eligible at this instant. Soft-banned relays are not in the heap, so
// the cost is one heap fix whatever their number.
func (p *Pool) Select() (Relay, bool) {
	now := p.clock.Now()

	p.mu.Lock()
	var (
		picked Relay
		found  bool
	)
	banned := len(p.banned)
	if len(p.queue) > 0 && p.queue[0].relay.IsAvailable(now) {
		it := p.queue[0]
		it.relay.MarkCooldown(now, p.policy.DefaultCooldown)
		it.seq = p.nextSeq()
		heap.Fix(&p.queue, 0)
		picked, found = it.relay, true
	}
	p.mu.Unlock()

	if banned > 0 {
		p.obs.Skipped(p.source, banned)
	}
	if !found {
		p.obs.Exhausted(p.source)
		return Relay{}, false
	}
	p.obs.Selected(p.source)
	p.log.Debug("relay selected",
		zap.Stringer("relay", picked),
		zap.Time("available_at", picked.AvailableAt))
	return picked, true
}

// Penalize records a failure against every relay matching address and
// returns how many were hit. An address:port query matches exactly one
// relay; a bare host matches all of its ports.
func (p *Pool) Penalize(address string) (int, error) {
	now := p.clock.Now()

	p.mu.Lock()
	var hits []*queueItem
	if it, ok := p.index[normalizeAddress(address)]; ok {
		hits = append(hits, it)
	} else {
		for _, it := range p.index {
			if matchesAddress(it.relay, address) {
				hits = append(hits, it)
			}
		}
	}
	for _, it := range hits {
		it.relay.MarkFailureCooldown(now, p.policy.FailureCooldown)
		switch {
		case it.heapIndex < 0:
			// already banned, nothing to reorder
		case it.relay.Failures >= p.policy.FailureLimit:
			heap.Remove(&p.queue, it.heapIndex)
			p.banned[it.relay.String()] = it
			p.log.Info("relay over failure limit",
				zap.Stringer("relay", it.relay),
				zap.Int("failures", it.relay.Failures))
		default:
			heap.Fix(&p.queue, it.heapIndex)
		}
	}
	p.mu.Unlock()

	if len(hits) == 0 {
		return 0, fmt.Errorf("%w: relay %q in source %q", ErrNotFound, address, p.source)
	}
	p.obs.Penalized(p.source, len(hits))
	p.log.Debug("relay penalized", zap.String("address", address), zap.Int("matched", len(hits)))
	return len(hits), nil
}

// AddMany parses entries and inserts the new ones. The batch is atomic: a
// malformed entry rejects it without touching the pool. Entries already
// stored, or repeated within the batch, are skipped.
func (p *Pool) AddMany(entries []string) (int, error) {
	parsed := make([]Relay, 0, len(entries))
	for _, e := range entries {
		r, err := ParseEntry(e, p.source)
		if err != nil {
			return 0, err
		}
		parsed = append(parsed, r)
	}

	p.mu.Lock()
	added := 0
	for _, r := range parsed {
		key := r.String()
		if _, dup := p.index[key]; dup {
			continue
		}
		p.insertLocked(r)
		added++
	}
	p.mu.Unlock()

	if added > 0 {
		p.obs.Added(p.source, added)
		p.log.Info("relays added", zap.Int("added", added), zap.Int("submitted", len(entries)))
	}
	return added, nil
}

// Clear removes the relays named in addresses, or every relay when
// addresses is empty. Entries may carry a kind:// prefix. It returns the
// number removed.
func (p *Pool) Clear(addresses []string) int {
	p.mu.Lock()
	var removed int
	if len(addresses) == 0 {
		removed = len(p.index)
		p.queue = nil
		p.banned = make(map[string]*queueItem)
		p.index = make(map[string]*queueItem)
	} else {
		for _, a := range addresses {
			key := normalizeAddress(a)
			it, ok := p.index[key]
			if !ok {
				continue
			}
			delete(p.index, key)
			if it.heapIndex >= 0 {
				heap.Remove(&p.queue, it.heapIndex)
			} else {
				delete(p.banned, key)
			}
			removed++
		}
	}
	p.mu.Unlock()

	if removed > 0 {
		p.obs.Removed(p.source, removed)
		p.log.Info("relays cleared", zap.Int("removed", removed))
	}
	return removed
}

// Relays returns a copy of every stored relay: the heap in heap order,
// then the banned ones in insertion order.
func (p *Pool) Relays() []Relay {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Relay, 0, len(p.index))
	for _, it := range p.queue {
		out = append(out, it.relay)
	}
	banned := make([]*queueItem, 0, len(p.banned))
	for _, it := range p.banned {
		banned = append(banned, it)
	}
	sort.Slice(banned, func(i, j int) bool { return banned[i].seq < banned[j].seq })
	for _, it := range banned {
		out = append(out, it.relay)
	}
	return out
}

// Statistics maps each relay's string form to its failure count.
func (p *Pool) Statistics() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]int, len(p.index))
	for key, it := range p.index {
		stats[key] = it.relay.Failures
	}
	return stats
}

// Snapshot copies the pool under the lock and writes the copy to store.
// A failed write leaves the pool untouched.
func (p *Pool) Snapshot(ctx context.Context, store Store) error {
	relays := p.Relays()
	if err := store.Save(ctx, p.source, relays); err != nil {
		return fmt.Errorf("%w: snapshot %q: %w", ErrPersistence, p.source, err)
	}
	p.log.Debug("pool snapshot written", zap.Int("relays", len(relays)))
	return nil
}

// Restore replaces the whole pool with the relays saved in store. Missing
// data for the source is an error and leaves the pool untouched.
func (p *Pool) Restore(ctx context.Context, store Store) error {
	relays, err := store.Load(ctx, p.source)
	if err != nil {
		return fmt.Errorf("%w: restore %q: %w", ErrPersistence, p.source, err)
	}
	for _, r := range relays {
		if r.Source != p.source {
			return fmt.Errorf("%w: restore %q: relay %s belongs to source %q",
				ErrPersistence, p.source, r, r.Source)
		}
		if r.Failures < 0 {
			return fmt.Errorf("%w: restore %q: relay %s has negative failure count",
				ErrPersistence, p.source, r)
		}
	}

	p.mu.Lock()
	p.queue = make(relayQueue, 0, len(relays))
	p.banned = make(map[string]*queueItem)
	p.index = make(map[string]*queueItem, len(relays))
	for _, r := range relays {
		if _, dup := p.index[r.String()]; dup {
			continue
		}
		p.insertLocked(r)
	}
	n, banned := len(p.index), len(p.banned)
	p.mu.Unlock()

	p.log.Info("pool restored", zap.Int("relays", n), zap.Int("banned", banned))
	return nil
}

// insertLocked stores r in the heap, or in banned when it is already at
// the failure limit.
func (p *Pool) insertLocked(r Relay) {
	it := &queueItem{relay: r, seq: p.nextSeq(), heapIndex: -1}
	key := r.String()
	if r.Failures >= p.policy.FailureLimit {
		p.banned[key] = it
	} else {
		heap.Push(&p.queue, it)
	}
	p.index[key] = it
}

func (p *Pool) nextSeq() uint64 {
	p.seq++
	return p.seq
}
