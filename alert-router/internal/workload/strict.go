package workload

import (
	"context"
	"fmt"
	"sync"
)

// Reserver is an atomic per-agent capacity counter. store.PGReserver is the durable
// implementation.
type Reserver interface {
	Reserve(ctx context.Context, agentID string, max int) (bool, error)
	Release(ctx context.Context, agentID string) error
	// SeedIfAbsent initializes a counter that does not exist yet. It never touches a
	// live counter.
	SeedIfAbsent(ctx context.Context, agentID string, count int) error
}

// StrictTracker enforces capacity ceilings through a Reserver instead of the
// read-then-decide pattern. A counter is initialized from the persisted active count
// the first time an agent is reserved; after that it only moves through Reserve and
// Release, so workload cache refreshes can never hand out a slot twice.
type StrictTracker struct {
	*CachedTracker
	reserver Reserver
	seeded   sync.Map
}

func NewStrictTracker(base *CachedTracker, reserver Reserver) *StrictTracker {
	return &StrictTracker{CachedTracker: base, reserver: reserver}
}

// Reserve claims one slot for agentID when fewer than max are held. max <= 0 is unbounded.
func (t *StrictTracker) Reserve(ctx context.Context, agentID string, max int) (bool, error) {
	if err := t.ensureSeeded(ctx, agentID); err != nil {
		return false, err
	}
	return t.reserver.Reserve(ctx, agentID, max)
}

// Release frees one slot. Agents never reserved in this process are left alone: their
// counter is still absent or was initialized after the alert left the active set.
func (t *StrictTracker) Release(ctx context.Context, agentID string) error {
	return t.reserver.Release(ctx, agentID)
}

func (t *StrictTracker) ensureSeeded(ctx context.Context, agentID string) error {
	if _, ok := t.seeded.Load(agentID); ok {
		return nil
	}
	active, err := t.store.CountActiveAlertsForAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("count active alerts for %s: %w", agentID, err)
	}
	if err := t.reserver.SeedIfAbsent(ctx, agentID, active); err != nil {
		return fmt.Errorf("seed capacity for %s: %w", agentID, err)
	}
	t.seeded.Store(agentID, struct{}{})
	return nil
}

// MemoryReserver is an in-process Reserver for tests and single-instance deployments.
type MemoryReserver struct {
	mu       sync.Mutex
	reserved map[string]int
}

func NewMemoryReserver() *MemoryReserver {
	return &MemoryReserver{reserved: map[string]int{}}
}

func (r *MemoryReserver) Reserve(ctx context.Context, agentID string, max int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max > 0 && r.reserved[agentID] >= max {
		return false, nil
	}
	r.reserved[agentID]++
	return true, nil
}

func (r *MemoryReserver) Release(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[agentID] > 0 {
		r.reserved[agentID]--
	}
	return nil
}

func (r *MemoryReserver) SeedIfAbsent(ctx context.Context, agentID string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reserved[agentID]; !ok {
		r.reserved[agentID] = count
	}
	return nil
}

func (r *MemoryReserver) Reserved(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved[agentID]
}
