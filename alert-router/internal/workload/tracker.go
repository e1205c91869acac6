package workload

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
)

const (
	DefaultTTL       = 60 * time.Second
	DefaultMaxAlerts = 10

	defaultNumCounters = 1e5
	defaultMaxCost     = 1e4
	defaultBufferItems = 64

	directoryKey = "directory"
)

// Tracker exposes agent workloads to the assignment strategies.
//
// Reserve is the hook strict capacity enforcement hangs off. The default tracker
// always grants it, so capacity ceilings stay advisory.
type Tracker interface {
	GetAll(ctx context.Context) ([]models.AgentWorkload, error)
	Directory(ctx context.Context) ([]models.Agent, error)
	Invalidate(agentIDs ...string)
	Reserve(ctx context.Context, agentID string, max int) (bool, error)
	Release(ctx context.Context, agentID string) error
}

type Config struct {
	TTL              time.Duration
	DefaultMaxAlerts int
	Logger           *log.Logger
}

// CachedTracker recomputes workloads from the store on cache miss. It does no
// check-and-increment: two concurrent routes may read the same count and pick the
// same agent. Counts converge after Invalidate or TTL expiry.
type CachedTracker struct {
	store      store.DirectoryStore
	cache      *ristretto.Cache
	ttl        time.Duration
	defaultMax int
	logger     *log.Logger
}

func NewCachedTracker(s store.DirectoryStore, cfg Config) (*CachedTracker, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.DefaultMaxAlerts <= 0 {
		cfg.DefaultMaxAlerts = DefaultMaxAlerts
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[workload] ", log.LstdFlags)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        defaultNumCounters,
		MaxCost:            defaultMaxCost,
		BufferItems:        defaultBufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create workload cache: %w", err)
	}
	return &CachedTracker{
		store:      s,
		cache:      cache,
		ttl:        cfg.TTL,
		defaultMax: cfg.DefaultMaxAlerts,
		logger:     cfg.Logger,
	}, nil
}

// Directory returns every active account, agents and elevated roles alike.
func (t *CachedTracker) Directory(ctx context.Context) ([]models.Agent, error) {
	if v, ok := t.cache.Get(directoryKey); ok {
		if agents, ok := v.([]models.Agent); ok {
			return agents, nil
		}
	}
	agents, err := t.store.LoadAgentDirectory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load agent directory: %w", err)
	}
	t.cache.SetWithTTL(directoryKey, agents, 1, t.ttl)
	return agents, nil
}

// GetAll returns the workload of every agent-role account in directory order.
func (t *CachedTracker) GetAll(ctx context.Context) ([]models.AgentWorkload, error) {
	agents, err := t.Directory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AgentWorkload, 0, len(agents))
	refreshed := false
	for _, agent := range agents {
		if agent.Role != models.RoleAgent && agent.Role != "" {
			continue
		}
		active, hit := t.cachedCount(agent.ID)
		if !hit {
			active, err = t.store.CountActiveAlertsForAgent(ctx, agent.ID)
			if err != nil {
				return nil, fmt.Errorf("count active alerts for %s: %w", agent.ID, err)
			}
			t.cache.SetWithTTL(countKey(agent.ID), active, 1, t.ttl)
			refreshed = true
		}
		if agent.MaxConcurrentAlerts <= 0 {
			agent.MaxConcurrentAlerts = t.defaultMax
		}
		out = append(out, models.NewAgentWorkload(agent, active))
	}
	if refreshed {
		t.cache.Wait()
	}
	return out, nil
}

func (t *CachedTracker) cachedCount(agentID string) (int, bool) {
	v, ok := t.cache.Get(countKey(agentID))
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Invalidate drops cached counts for the given agents, or everything when none are given.
func (t *CachedTracker) Invalidate(agentIDs ...string) {
	if len(agentIDs) == 0 {
		t.cache.Clear()
		return
	}
	for _, id := range agentIDs {
		t.cache.Del(countKey(id))
	}
}

func (t *CachedTracker) Reserve(ctx context.Context, agentID string, max int) (bool, error) {
	return true, nil
}

func (t *CachedTracker) Release(ctx context.Context, agentID string) error {
	return nil
}

func (t *CachedTracker) Close() {
	t.cache.Close()
}

func countKey(agentID string) string {
	return "agent:" + agentID
}
