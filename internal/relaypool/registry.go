package relaypool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// DefaultSource is the key of the pool used by callers that name no source.
const DefaultSource = "default"

// Registry is a fixed mapping from source key to pool. The map is built
// once and never changes, so lookups need no lock.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry creates one pool per entry of policies plus the default pool
// and seeds each with initial.
func NewRegistry(policies map[string]Policy, initial []string, opts ...Option) (*Registry, error) {
	pools := make(map[string]*Pool, len(policies)+1)
	if _, ok := policies[DefaultSource]; !ok {
		pools[DefaultSource] = New(DefaultSource, DefaultPolicy(), opts...)
	}
	for source, policy := range policies {
		if source == "" {
			return nil, fmt.Errorf("%w: empty source key", ErrMalformed)
		}
		pools[source] = New(source, policy, opts...)
	}
	for source, p := range pools {
		if _, err := p.AddMany(initial); err != nil {
			return nil, fmt.Errorf("seed source %q: %w", source, err)
		}
	}
	return &Registry{pools: pools}, nil
}

// Pool returns the pool for source. Unknown sources are ErrNotFound.
func (r *Registry) Pool(source string) (*Pool, error) {
	p, ok := r.pools[source]
	if !ok {
		return nil, fmt.Errorf("%w: source %q", ErrNotFound, source)
	}
	return p, nil
}

// Sources returns every source key in sorted order.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.pools))
	for s := range r.pools {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Select picks a relay from source.
func (r *Registry) Select(source string) (Relay, bool, error) {
	p, err := r.Pool(source)
	if err != nil {
		return Relay{}, false, err
	}
	relay, ok := p.Select()
	return relay, ok, nil
}

// Penalize reports a failure for address in source.
func (r *Registry) Penalize(source, address string) (int, error) {
	p, err := r.Pool(source)
	if err != nil {
		return 0, err
	}
	return p.Penalize(address)
}

// AddMany adds entries to source.
func (r *Registry) AddMany(source string, entries []string) (int, error) {
	p, err := r.Pool(source)
	if err != nil {
		return 0, err
	}
	return p.AddMany(entries)
}

// Clear removes addresses, or everything when addresses is empty, from source.
func (r *Registry) Clear(source string, addresses []string) (int, error) {
	p, err := r.Pool(source)
	if err != nil {
		return 0, err
	}
	return p.Clear(addresses), nil
}

// ClearAll applies Clear to every pool and returns the total removed.
func (r *Registry) ClearAll(addresses []string) int {
	total := 0
	for _, p := range r.pools {
		total += p.Clear(addresses)
	}
	return total
}

// Statistics returns the failure counts of source.
func (r *Registry) Statistics(source string) (map[string]int, error) {
	p, err := r.Pool(source)
	if err != nil {
		return nil, err
	}
	return p.Statistics(), nil
}

// Snapshot persists source to store.
func (r *Registry) Snapshot(ctx context.Context, source string, store Store) error {
	p, err := r.Pool(source)
	if err != nil {
		return err
	}
	return p.Snapshot(ctx, store)
}

// Restore replaces source with its saved state in store.
func (r *Registry) Restore(ctx context.Context, source string, store Store) error {
	p, err := r.Pool(source)
	if err != nil {
		return err
	}
	return p.Restore(ctx, store)
}

// SnapshotAll persists every pool, continuing past failures.
func (r *Registry) SnapshotAll(ctx context.Context, store Store) error {
	var errs error
	for _, s := range r.Sources() {
		errs = multierr.Append(errs, r.pools[s].Snapshot(ctx, store))
	}
	return errs
}

// RestoreAll restores every pool that has saved state. Sources without a
// snapshot are reported in missing rather than as errors.
func (r *Registry) RestoreAll(ctx context.Context, store Store) (missing []string, err error) {
	for _, s := range r.Sources() {
		rerr := r.pools[s].Restore(ctx, store)
		switch {
		case rerr == nil:
		case errors.Is(rerr, ErrNoSnapshot):
			missing = append(missing, s)
		default:
			err = multierr.Append(err, rerr)
		}
	}
	return missing, err
}
