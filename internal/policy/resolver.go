package policy

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Source loads the full tier -> LimitSet table from the policy backing store
type Source interface {
	Load(ctx context.Context) (map[string]*LimitSet, error)
}

// Table is one immutable policy snapshot. Refresh builds a new Table and
// swaps the pointer; in-flight requests keep the snapshot they resolved
// against.
type Table struct {
	ByTier   map[string]*LimitSet
	LoadedAt time.Time
}

type Resolver struct {
	source       Source
	table        atomic.Value // *Table
	refreshEvery time.Duration
	stop         chan struct{}
}

func NewResolver(source Source, refreshEvery time.Duration) (*Resolver, error) {
	if refreshEvery <= 0 {
		refreshEvery = time.Minute
	}

	r := &Resolver{
		source:       source,
		refreshEvery: refreshEvery,
		stop:         make(chan struct{}),
	}

	if err := r.Invalidate(context.Background()); err != nil {
		return nil, err
	}

	return r, nil
}

// Resolve returns the limit set for a tier from the current snapshot
func (r *Resolver) Resolve(tier string) (*LimitSet, error) {
	table := r.table.Load().(*Table)

	ls, ok := table.ByTier[tier]
	if !ok {
		return nil, ErrUnknownTier
	}

	return ls, nil
}

// Invalidate reloads the policy table immediately
func (r *Resolver) Invalidate(ctx context.Context) error {
	byTier, err := r.source.Load(ctx)
	if err != nil {
		return err
	}

	r.table.Store(&Table{
		ByTier:   byTier,
		LoadedAt: time.Now(),
	})

	return nil
}

// Snapshot returns the current table (read-only)
func (r *Resolver) Snapshot() *Table {
	return r.table.Load().(*Table)
}

// Start begins periodic refresh in the background. A failed refresh keeps
// the previous snapshot.
func (r *Resolver) Start() {
	go func() {
		ticker := time.NewTicker(r.refreshEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := r.Invalidate(ctx); err != nil {
					log.Printf("Policy refresh failed, keeping previous snapshot: %v", err)
				}
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *Resolver) Stop() {
	close(r.stop)
}

// StaticSource serves a fixed table. Used in tests and as the bootstrap
// default before any policy row has been published.
type StaticSource struct {
	Tiers map[string]*LimitSet
}

func (s *StaticSource) Load(ctx context.Context) (map[string]*LimitSet, error) {
	out := make(map[string]*LimitSet, len(s.Tiers))
	for name, ls := range s.Tiers {
		out[name] = ls
	}
	return out, nil
}
