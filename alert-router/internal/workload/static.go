package workload

import (
	"context"
	"sync"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

// StaticTracker serves a fixed snapshot. It never refreshes itself; callers mutate
// the snapshot through Set. Useful for deterministic strategy tests.
type StaticTracker struct {
	mu          sync.Mutex
	workloads   []models.AgentWorkload
	accounts    []models.Agent
	invalidated []string
}

func NewStaticTracker(workloads []models.AgentWorkload, accounts []models.Agent) *StaticTracker {
	return &StaticTracker{workloads: workloads, accounts: accounts}
}

func (t *StaticTracker) Set(workloads []models.AgentWorkload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workloads = workloads
}

func (t *StaticTracker) GetAll(ctx context.Context) ([]models.AgentWorkload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.AgentWorkload(nil), t.workloads...), nil
}

func (t *StaticTracker) Directory(ctx context.Context) ([]models.Agent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Agent(nil), t.accounts...), nil
}

func (t *StaticTracker) Invalidate(agentIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(agentIDs) == 0 {
		t.invalidated = append(t.invalidated, "*")
		return
	}
	t.invalidated = append(t.invalidated, agentIDs...)
}

// Invalidated returns the agent IDs passed to Invalidate so far ("*" for a full flush).
func (t *StaticTracker) Invalidated() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.invalidated...)
}

func (t *StaticTracker) Reserve(ctx context.Context, agentID string, max int) (bool, error) {
	return true, nil
}

func (t *StaticTracker) Release(ctx context.Context, agentID string) error {
	return nil
}
