package assign

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/workload"
)

// DefaultRouter places alerts no rule handled. It picks uniformly among agents with
// spare capacity and overflows onto the least loaded agent when everyone is full.
type DefaultRouter struct {
	tracker workload.Tracker
	pick    *picker
	logger  *log.Logger
}

func NewDefaultRouter(tracker workload.Tracker, cfg Config) *DefaultRouter {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[assign] ", log.LstdFlags)
	}
	return &DefaultRouter{tracker: tracker, pick: newPicker(cfg.Rand), logger: cfg.Logger}
}

func (r *DefaultRouter) Route(ctx context.Context, rc models.RoutingContext) (models.RoutingResult, error) {
	all, err := r.tracker.GetAll(ctx)
	if err != nil {
		return models.RoutingResult{}, err
	}
	if len(all) == 0 {
		return models.RoutingResult{}, &NoAgentsAvailableError{AlertID: rc.AlertID}
	}

	var available []models.AgentWorkload
	for _, w := range all {
		if w.AvailableCapacity > 0 {
			available = append(available, w)
		}
	}
	// A random permutation keeps the first pick uniform; later entries only matter
	// when a strict tracker refuses a stale candidate.
	for _, i := range r.pick.perm(len(available)) {
		w := available[i]
		ok, err := r.tracker.Reserve(ctx, w.AgentID, w.MaxConcurrentAlerts)
		if err != nil {
			return models.RoutingResult{}, fmt.Errorf("reserve %s: %w", w.AgentID, err)
		}
		if ok {
			return models.RoutingResult{AgentID: w.AgentID, Strategy: models.StrategyRoundRobin}, nil
		}
	}

	least := all[0]
	for _, w := range all[1:] {
		if w.ActiveAlerts < least.ActiveAlerts {
			least = w
		}
	}
	ok, err := r.tracker.Reserve(ctx, least.AgentID, least.MaxConcurrentAlerts)
	if err != nil {
		return models.RoutingResult{}, fmt.Errorf("reserve %s: %w", least.AgentID, err)
	}
	if !ok {
		return models.RoutingResult{}, fmt.Errorf("route alert %s: %w", rc.AlertID, ErrCapacityExhausted)
	}
	r.logger.Printf("all agents at capacity; overflowing alert %s to %s (%d active)", rc.AlertID, least.AgentID, least.ActiveAlerts)
	return models.RoutingResult{AgentID: least.AgentID, Strategy: models.StrategyOverflow}, nil
}
