package rules

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

// ActiveRules supplies rules in evaluation order.
type ActiveRules interface {
	GetActiveRules(ctx context.Context) []models.RoutingRule
}

// ActionExecutor runs a single rule action. A nil result with a nil error means the
// action produced no assignment; notify actions always return that.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.Action, rule models.RoutingRule, rc models.RoutingContext) (*models.RoutingResult, error)
}

// Fallback routes alerts no rule could place.
type Fallback interface {
	Route(ctx context.Context, rc models.RoutingContext) (models.RoutingResult, error)
}

type EngineConfig struct {
	Logger *log.Logger
}

type Engine struct {
	rules     ActiveRules
	evaluator *Evaluator
	executor  ActionExecutor
	fallback  Fallback
	logger    *log.Logger
}

func NewEngine(rules ActiveRules, evaluator *Evaluator, executor ActionExecutor, fallback Fallback, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[rules] ", log.LstdFlags)
	}
	if evaluator == nil {
		evaluator = NewEvaluator(cfg.Logger)
	}
	return &Engine{
		rules:     rules,
		evaluator: evaluator,
		executor:  executor,
		fallback:  fallback,
		logger:    cfg.Logger,
	}
}

// Route walks active rules in priority order. The first matching rule whose actions
// yield an assignment wins; a matching rule that yields nothing falls through to the
// next rule, and when no rule places the alert the fallback router is used.
func (e *Engine) Route(ctx context.Context, rc models.RoutingContext) (models.RoutingResult, error) {
	for _, rule := range e.rules.GetActiveRules(ctx) {
		if !e.evaluator.EvaluateAll(rule.Conditions, rc) {
			continue
		}
		res, err := e.runActions(ctx, rule, rc)
		if err != nil {
			return models.RoutingResult{}, err
		}
		if res != nil {
			return *res, nil
		}
		e.logger.Printf("rule %s (%s) matched alert %s but produced no assignment; trying next rule", rule.ID, rule.Name, rc.AlertID)
	}
	return e.fallback.Route(ctx, rc)
}

func (e *Engine) runActions(ctx context.Context, rule models.RoutingRule, rc models.RoutingContext) (*models.RoutingResult, error) {
	for _, action := range rule.Actions {
		res, err := e.executor.Execute(ctx, action, rule, rc)
		if err != nil {
			return nil, fmt.Errorf("rule %s action %s: %w", rule.ID, action.Type, err)
		}
		if res == nil || res.AgentID == "" {
			continue
		}
		if res.RuleID == "" {
			res.RuleID = rule.ID
		}
		return res, nil
	}
	return nil, nil
}
