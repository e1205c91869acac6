package rules

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

type staticRules []models.RoutingRule

func (s staticRules) GetActiveRules(ctx context.Context) []models.RoutingRule { return s }

// fakeExecutor resolves actions from a table keyed by action type and records every call.
type fakeExecutor struct {
	results map[models.ActionType]*models.RoutingResult
	err     error
	calls   []string
}

func (f *fakeExecutor) Execute(ctx context.Context, action models.Action, rule models.RoutingRule, rc models.RoutingContext) (*models.RoutingResult, error) {
	f.calls = append(f.calls, rule.ID+":"+string(action.Type))
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[action.Type]; ok && res != nil {
		out := *res
		return &out, nil
	}
	return nil, nil
}

type fakeFallback struct {
	called bool
	err    error
}

func (f *fakeFallback) Route(ctx context.Context, rc models.RoutingContext) (models.RoutingResult, error) {
	f.called = true
	if f.err != nil {
		return models.RoutingResult{}, f.err
	}
	return models.RoutingResult{AgentID: "default-agent", Strategy: models.StrategyRoundRobin}, nil
}

func newTestEngine(rules []models.RoutingRule, exec ActionExecutor, fb Fallback) *Engine {
	logger := log.New(&bytes.Buffer{}, "", 0)
	return NewEngine(staticRules(rules), NewEvaluator(logger), exec, fb, EngineConfig{Logger: logger})
}

func TestRouteHigherPriorityRuleWins(t *testing.T) {
	exec := &fakeExecutor{results: map[models.ActionType]*models.RoutingResult{
		models.ActionAssignToAgent:     {AgentID: "agent-vip", Strategy: models.StrategyRuleBased},
		models.ActionAssignToTerritory: {AgentID: "agent-tx", Strategy: models.StrategyTerritoryBased},
	}}
	fb := &fakeFallback{}
	rules := []models.RoutingRule{
		{ID: "vip", Priority: 100, Actions: []models.Action{{Type: models.ActionAssignToAgent}}},
		{ID: "texas", Priority: 10, Actions: []models.Action{{Type: models.ActionAssignToTerritory}}},
	}

	res, err := newTestEngine(rules, exec, fb).Route(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "agent-vip", res.AgentID)
	assert.Equal(t, "vip", res.RuleID)
	assert.Equal(t, []string{"vip:assign_to_agent"}, exec.calls)
	assert.False(t, fb.called)
}

func TestRouteFallsThroughToNextRule(t *testing.T) {
	exec := &fakeExecutor{results: map[models.ActionType]*models.RoutingResult{
		models.ActionAssignBySkill: {AgentID: "agent-skill", Strategy: models.StrategySkillBased},
	}}
	fb := &fakeFallback{}
	rules := []models.RoutingRule{
		{ID: "empty-territory", Priority: 100, Actions: []models.Action{
			{Type: models.ActionAssignToTerritory},
			{Type: models.ActionEscalate},
		}},
		{ID: "skills", Priority: 50, Actions: []models.Action{{Type: models.ActionAssignBySkill}}},
	}

	res, err := newTestEngine(rules, exec, fb).Route(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "agent-skill", res.AgentID)
	assert.Equal(t, "skills", res.RuleID)
	assert.Equal(t, []string{
		"empty-territory:assign_to_territory",
		"empty-territory:escalate",
		"skills:assign_by_skill",
	}, exec.calls)
}

func TestRouteNotifyContinuesToNextAction(t *testing.T) {
	exec := &fakeExecutor{results: map[models.ActionType]*models.RoutingResult{
		models.ActionAssignToTerritory: {AgentID: "agent-tx", Strategy: models.StrategyTerritoryBased},
	}}
	rules := []models.RoutingRule{
		{ID: "notify-then-assign", Priority: 1, Actions: []models.Action{
			{Type: models.ActionNotify},
			{Type: models.ActionAssignToTerritory},
		}},
	}

	res, err := newTestEngine(rules, exec, &fakeFallback{}).Route(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "agent-tx", res.AgentID)
	assert.Equal(t, []string{"notify-then-assign:notify", "notify-then-assign:assign_to_territory"}, exec.calls)
}

func TestRouteSkipsRulesWhoseConditionsFail(t *testing.T) {
	exec := &fakeExecutor{results: map[models.ActionType]*models.RoutingResult{
		models.ActionAssignToAgent: {AgentID: "agent-x", Strategy: models.StrategyRuleBased},
	}}
	fb := &fakeFallback{}
	rules := []models.RoutingRule{
		{ID: "buyers", Priority: 10,
			Conditions: []models.Condition{{Field: "alertType", Operator: models.OpEquals, Value: "likely_buyer"}},
			Actions:    []models.Action{{Type: models.ActionAssignToAgent}}},
	}

	res, err := newTestEngine(rules, exec, fb).Route(context.Background(), testContext())
	require.NoError(t, err)
	assert.True(t, fb.called)
	assert.Equal(t, "default-agent", res.AgentID)
	assert.Empty(t, res.RuleID)
	assert.Empty(t, exec.calls)
}

func TestRoutePropagatesExecutorErrors(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("workload unavailable")}
	rules := []models.RoutingRule{{ID: "r1", Actions: []models.Action{{Type: models.ActionAssignBySkill}}}}

	_, err := newTestEngine(rules, exec, &fakeFallback{}).Route(context.Background(), testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workload unavailable")
}

func TestRouteFallbackErrorSurfaces(t *testing.T) {
	fb := &fakeFallback{err: errors.New("no agents")}
	_, err := newTestEngine(nil, &fakeExecutor{}, fb).Route(context.Background(), testContext())
	assert.EqualError(t, err, "no agents")
}
