package assign

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/workload"
)

// RuleNotifier receives notify actions. Delivery errors are logged by the executor.
type RuleNotifier interface {
	RuleTriggered(ctx context.Context, n models.RuleNotification) error
}

type Config struct {
	// Rand drives escalation and round-robin picks. Tests pass a seeded source.
	Rand     *rand.Rand
	Notifier RuleNotifier
	Logger   *log.Logger
}

// picker is a goroutine-safe wrapper around a *rand.Rand.
type picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newPicker(rng *rand.Rand) *picker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &picker{rng: rng}
}

func (p *picker) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

func (p *picker) perm(n int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Perm(n)
}

// Executor runs rule actions against the current workload snapshot. It implements
// rules.ActionExecutor.
type Executor struct {
	tracker  workload.Tracker
	pick     *picker
	notifier RuleNotifier
	logger   *log.Logger
}

func NewExecutor(tracker workload.Tracker, cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[assign] ", log.LstdFlags)
	}
	return &Executor{
		tracker:  tracker,
		pick:     newPicker(cfg.Rand),
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
}

// Execute returns nil when the action cannot place the alert, which lets the rule
// engine fall through to the next rule.
func (e *Executor) Execute(ctx context.Context, action models.Action, rule models.RoutingRule, rc models.RoutingContext) (*models.RoutingResult, error) {
	switch action.Type {
	case models.ActionAssignToAgent:
		return e.assignToAgent(ctx, action, rc)
	case models.ActionAssignToTerritory:
		territory, ok := action.StringParam("territory")
		if !ok {
			territory = rc.TerritoryOrEmpty()
		}
		return e.AssignToTerritory(ctx, territory)
	case models.ActionAssignBySkill:
		skills := action.StringsParam("requiredSkills")
		if skills == nil {
			skills = action.StringsParam("skills")
		}
		return e.AssignBySkill(ctx, skills)
	case models.ActionEscalate:
		return e.Escalate(ctx)
	case models.ActionNotify:
		e.notify(ctx, action, rule, rc)
		return nil, nil
	default:
		e.logger.Printf("rule %s has unknown action type %q; skipping", rule.ID, action.Type)
		return nil, nil
	}
}

// assignToAgent ignores workload but still claims a slot so strict counters stay accurate.
func (e *Executor) assignToAgent(ctx context.Context, action models.Action, rc models.RoutingContext) (*models.RoutingResult, error) {
	agentID, ok := action.StringParam("agentId")
	if !ok {
		e.logger.Printf("assign_to_agent for alert %s has no agentId param", rc.AlertID)
		return nil, nil
	}
	if _, err := e.tracker.Reserve(ctx, agentID, 0); err != nil {
		return nil, fmt.Errorf("reserve %s: %w", agentID, err)
	}
	return &models.RoutingResult{AgentID: agentID, Strategy: models.StrategyRuleBased}, nil
}

// AssignToTerritory picks the least loaded agent covering territory. Ties keep
// directory order.
func (e *Executor) AssignToTerritory(ctx context.Context, territory string) (*models.RoutingResult, error) {
	if territory == "" {
		return nil, nil
	}
	all, err := e.tracker.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []models.AgentWorkload
	for _, w := range all {
		if w.HasTerritory(territory) {
			candidates = append(candidates, w)
		}
	}
	return e.claimLeastLoaded(ctx, candidates, models.StrategyTerritoryBased)
}

// AssignBySkill picks the least loaded agent whose skills cover every required skill.
func (e *Executor) AssignBySkill(ctx context.Context, required []string) (*models.RoutingResult, error) {
	all, err := e.tracker.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []models.AgentWorkload
	for _, w := range all {
		if w.HasSkills(required) {
			candidates = append(candidates, w)
		}
	}
	return e.claimLeastLoaded(ctx, candidates, models.StrategySkillBased)
}

func (e *Executor) claimLeastLoaded(ctx context.Context, candidates []models.AgentWorkload, strategy models.Strategy) (*models.RoutingResult, error) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ActiveAlerts < candidates[j].ActiveAlerts
	})
	for _, c := range candidates {
		ok, err := e.tracker.Reserve(ctx, c.AgentID, c.MaxConcurrentAlerts)
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", c.AgentID, err)
		}
		if ok {
			return &models.RoutingResult{AgentID: c.AgentID, Strategy: strategy}, nil
		}
	}
	return nil, nil
}

// Escalate picks a supervisor or admin uniformly at random. It returns nil when no
// elevated account exists.
func (e *Executor) Escalate(ctx context.Context) (*models.RoutingResult, error) {
	accounts, err := e.tracker.Directory(ctx)
	if err != nil {
		return nil, err
	}
	var elevated []models.Agent
	for _, a := range accounts {
		if a.Role.Elevated() {
			elevated = append(elevated, a)
		}
	}
	if len(elevated) == 0 {
		return nil, nil
	}
	chosen := elevated[e.pick.intn(len(elevated))]
	if _, err := e.tracker.Reserve(ctx, chosen.ID, 0); err != nil {
		return nil, fmt.Errorf("reserve %s: %w", chosen.ID, err)
	}
	return &models.RoutingResult{AgentID: chosen.ID, Strategy: models.StrategyEscalated}, nil
}

func (e *Executor) notify(ctx context.Context, action models.Action, rule models.RoutingRule, rc models.RoutingContext) {
	if e.notifier == nil {
		e.logger.Printf("rule %s notify for alert %s: no notifier configured", rule.ID, rc.AlertID)
		return
	}
	channel, _ := action.StringParam("channel")
	message, _ := action.StringParam("message")
	n := models.RuleNotification{
		AlertID: rc.AlertID,
		RuleID:  rule.ID,
		Channel: channel,
		Message: message,
		Params:  action.Params,
		Ts:      time.Now().UTC(),
	}
	if err := e.notifier.RuleTriggered(ctx, n); err != nil {
		e.logger.Printf("rule %s notify for alert %s failed: %v", rule.ID, rc.AlertID, err)
	}
}
