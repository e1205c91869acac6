package workload

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.PutAgent(models.Agent{ID: "agent-a", Role: models.RoleAgent, Territories: []string{"TX-AUSTIN"}, MaxConcurrentAlerts: 2})
	s.PutAgent(models.Agent{ID: "sup-1", Role: models.RoleSupervisor})
	s.PutAgent(models.Agent{ID: "agent-b", Role: models.RoleAgent, Skills: []string{"luxury"}})

	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := s.SaveAlert(ctx, store.AlertInput{ID: id})
		require.NoError(t, err)
		_, err = s.SaveAssignment(ctx, store.AssignmentInput{AlertID: id, AgentID: "agent-a", Strategy: models.StrategyRoundRobin})
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateAlertStatus(ctx, "a3", models.AlertStatusResolved))
	return s
}

func newTestTracker(t *testing.T, s store.DirectoryStore) *CachedTracker {
	t.Helper()
	tr, err := NewCachedTracker(s, Config{Logger: log.New(&bytes.Buffer{}, "", 0)})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestGetAllComputesWorkloadsForAgentsOnly(t *testing.T) {
	tr := newTestTracker(t, seedStore(t))

	all, err := tr.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "agent-a", all[0].AgentID)
	assert.Equal(t, 2, all[0].ActiveAlerts)
	assert.Equal(t, 2, all[0].MaxConcurrentAlerts)
	assert.Equal(t, 0, all[0].AvailableCapacity)

	assert.Equal(t, "agent-b", all[1].AgentID)
	assert.Equal(t, 0, all[1].ActiveAlerts)
	assert.Equal(t, DefaultMaxAlerts, all[1].MaxConcurrentAlerts, "unset ceilings use the default")
	assert.Equal(t, DefaultMaxAlerts, all[1].AvailableCapacity)

	dir, err := tr.Directory(context.Background())
	require.NoError(t, err)
	assert.Len(t, dir, 3)
}

func TestInvalidateReflectsNewAssignments(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	tr := newTestTracker(t, s)

	_, err := tr.GetAll(ctx)
	require.NoError(t, err)

	_, err = s.SaveAlert(ctx, store.AlertInput{ID: "a4"})
	require.NoError(t, err)
	_, err = s.SaveAssignment(ctx, store.AssignmentInput{AlertID: "a4", AgentID: "agent-b", Strategy: models.StrategyRoundRobin})
	require.NoError(t, err)
	tr.Invalidate("agent-b")

	all, err := tr.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all[1].ActiveAlerts)

	tr.Invalidate()
	all, err = tr.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all[1].ActiveAlerts)
}

func TestCachedCountsExpireAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	tr, err := NewCachedTracker(s, Config{TTL: 30 * time.Millisecond, Logger: log.New(&bytes.Buffer{}, "", 0)})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	all, err := tr.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, all[1].ActiveAlerts)

	// No Invalidate: the new assignment shows up once the cached count expires.
	_, err = s.SaveAlert(ctx, store.AlertInput{ID: "a5"})
	require.NoError(t, err)
	_, err = s.SaveAssignment(ctx, store.AssignmentInput{AlertID: "a5", AgentID: "agent-b", Strategy: models.StrategyRoundRobin})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		all, err := tr.GetAll(ctx)
		return err == nil && len(all) == 2 && all[1].ActiveAlerts == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type failingDirectory struct{}

func (failingDirectory) LoadAgentDirectory(ctx context.Context) ([]models.Agent, error) {
	return nil, errors.New("directory offline")
}

func (failingDirectory) CountActiveAlertsForAgent(ctx context.Context, agentID string) (int, error) {
	return 0, nil
}

func TestGetAllPropagatesStoreErrors(t *testing.T) {
	tr := newTestTracker(t, failingDirectory{})
	_, err := tr.GetAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory offline")
}

func TestSoftTrackerAlwaysGrantsReservations(t *testing.T) {
	tr := newTestTracker(t, seedStore(t))
	for i := 0; i < 5; i++ {
		ok, err := tr.Reserve(context.Background(), "agent-a", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestStrictTrackerEnforcesCeiling(t *testing.T) {
	ctx := context.Background()
	reserver := NewMemoryReserver()
	st := NewStrictTracker(newTestTracker(t, seedStore(t)), reserver)

	// The first reservation initializes the counter from the persisted active count.
	ok, err := st.Reserve(ctx, "agent-a", 2)
	require.NoError(t, err)
	assert.False(t, ok, "agent-a is already at its ceiling")
	assert.Equal(t, 2, reserver.Reserved("agent-a"))

	ok, err = st.Reserve(ctx, "agent-b", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.Reserve(ctx, "agent-b", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Release(ctx, "agent-b"))
	ok, err = st.Reserve(ctx, "agent-b", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Reserve(ctx, "agent-a", 0)
	require.NoError(t, err)
	assert.True(t, ok, "a zero ceiling is unbounded")
}

func TestStrictTrackerRefreshKeepsInFlightReservations(t *testing.T) {
	ctx := context.Background()
	reserver := NewMemoryReserver()
	st := NewStrictTracker(newTestTracker(t, seedStore(t)), reserver)

	// Reserved but not yet persisted: the store still reports zero for agent-b.
	ok, err := st.Reserve(ctx, "agent-b", 1)
	require.NoError(t, err)
	require.True(t, ok)

	st.Invalidate()
	all, err := st.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, all[1].ActiveAlerts)
	assert.Equal(t, 1, reserver.Reserved("agent-b"), "a workload refresh must not reset the counter")

	ok, err = st.Reserve(ctx, "agent-b", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryReserverSeedIfAbsent(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryReserver()
	require.NoError(t, r.SeedIfAbsent(ctx, "a", 2))
	require.NoError(t, r.SeedIfAbsent(ctx, "a", 0))
	assert.Equal(t, 2, r.Reserved("a"))

	require.NoError(t, r.Release(ctx, "b"))
	require.NoError(t, r.SeedIfAbsent(ctx, "b", 1))
	assert.Equal(t, 1, r.Reserved("b"), "releasing an unknown agent does not create its counter")
}
