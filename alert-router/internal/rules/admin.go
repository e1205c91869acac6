package rules

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
)

var ErrInvalidRule = errors.New("invalid rule")

// Invalidator is satisfied by *RuleStore.
type Invalidator interface {
	Invalidate()
}

// Admin is the rule management surface. Every successful write invalidates the
// active rule cache so routing sees it on the next call.
type Admin struct {
	store  store.RuleStore
	cache  Invalidator
	logger *log.Logger
}

func NewAdmin(s store.RuleStore, cache Invalidator, logger *log.Logger) *Admin {
	if logger == nil {
		logger = log.New(os.Stdout, "[rules] ", log.LstdFlags)
	}
	return &Admin{store: s, cache: cache, logger: logger}
}

func (a *Admin) List(ctx context.Context) ([]models.RoutingRule, error) {
	return a.store.ListRules(ctx)
}

func (a *Admin) Get(ctx context.Context, id string) (models.RoutingRule, error) {
	return a.store.GetRule(ctx, id)
}

func (a *Admin) Create(ctx context.Context, in store.RuleInput) (models.RoutingRule, error) {
	if in.ID != "" {
		if _, err := a.store.GetRule(ctx, in.ID); err == nil {
			return models.RoutingRule{}, fmt.Errorf("rule %s: %w", in.ID, store.ErrConflict)
		} else if !errors.Is(err, store.ErrNotFound) {
			return models.RoutingRule{}, err
		}
	}
	return a.write(ctx, in)
}

func (a *Admin) Update(ctx context.Context, id string, in store.RuleInput) (models.RoutingRule, error) {
	if _, err := a.store.GetRule(ctx, id); err != nil {
		return models.RoutingRule{}, err
	}
	in.ID = id
	return a.write(ctx, in)
}

func (a *Admin) Delete(ctx context.Context, id string) error {
	if err := a.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	a.cache.Invalidate()
	return nil
}

func (a *Admin) Enable(ctx context.Context, id string) (models.RoutingRule, error) {
	return a.setEnabled(ctx, id, true)
}

func (a *Admin) Disable(ctx context.Context, id string) (models.RoutingRule, error) {
	return a.setEnabled(ctx, id, false)
}

// Seed upserts rules, typically from a rule file at startup. Rules without an id are
// matched to an existing rule by exact name, so seeding the same file twice is a no-op.
func (a *Admin) Seed(ctx context.Context, inputs []store.RuleInput) (int, error) {
	existing, err := a.store.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed rules: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, r := range existing {
		byName[r.Name] = r.ID
	}
	for i, in := range inputs {
		if in.ID == "" {
			in.ID = byName[in.Name]
		}
		rule, err := a.write(ctx, in)
		if err != nil {
			return i, fmt.Errorf("seed rule %q: %w", in.Name, err)
		}
		byName[rule.Name] = rule.ID
	}
	return len(inputs), nil
}

func (a *Admin) setEnabled(ctx context.Context, id string, enabled bool) (models.RoutingRule, error) {
	rule, err := a.store.GetRule(ctx, id)
	if err != nil {
		return models.RoutingRule{}, err
	}
	return a.write(ctx, store.RuleInput{
		ID:         rule.ID,
		Name:       rule.Name,
		Priority:   rule.Priority,
		Enabled:    enabled,
		Conditions: rule.Conditions,
		Actions:    rule.Actions,
	})
}

func (a *Admin) write(ctx context.Context, in store.RuleInput) (models.RoutingRule, error) {
	if err := a.validate(in); err != nil {
		return models.RoutingRule{}, err
	}
	rule, err := a.store.UpsertRule(ctx, in)
	if err != nil {
		return models.RoutingRule{}, err
	}
	a.cache.Invalidate()
	return rule, nil
}

func (a *Admin) validate(in store.RuleInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	for i, c := range in.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: condition %d has no field", ErrInvalidRule, i)
		}
		if !c.Operator.Valid() {
			a.logger.Printf("rule %q condition %d uses unknown operator %q; it will never match", in.Name, i, c.Operator)
		}
	}
	for i, act := range in.Actions {
		if !act.Type.Valid() {
			return fmt.Errorf("%w: action %d has unknown type %q", ErrInvalidRule, i, act.Type)
		}
		if act.Type == models.ActionAssignToAgent {
			if _, ok := act.StringParam("agentId"); !ok {
				return fmt.Errorf("%w: action %d assign_to_agent needs params.agentId", ErrInvalidRule, i)
			}
		}
	}
	return nil
}
