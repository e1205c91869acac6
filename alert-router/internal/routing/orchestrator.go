package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/notify"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/store"
	"github.com/ILLUVRSE/alert-routing/alert-router/internal/workload"
)

const (
	DefaultStaleAfterDays = 3
	// DefaultUnassignedGrace is how long a new alert may sit without an assignment
	// before the sweep routes it again.
	DefaultUnassignedGrace = 5 * time.Minute
)

var ErrNoSupervisors = errors.New("no supervisor accounts available for escalation")

// Router decides the agent for an alert. *rules.Engine is the production implementation.
type Router interface {
	Route(ctx context.Context, rc models.RoutingContext) (models.RoutingResult, error)
}

// Escalator picks an elevated account. *assign.Executor is the production implementation.
type Escalator interface {
	Escalate(ctx context.Context) (*models.RoutingResult, error)
}

// Store is the subset of store.Store the orchestrator needs.
type Store interface {
	store.AlertStore
	store.AssignmentStore
}

type Config struct {
	Notifier      notify.Notifier
	NotifyTimeout time.Duration
	Logger        *log.Logger
	Now           func() time.Time
}

// BatchResult is the partial-success outcome of a batch operation. Every input ID ends
// up either in Assignments or in Failed.
type BatchResult struct {
	Assignments []models.Assignment
	Failed      map[string]error
}

func newBatchResult() BatchResult {
	return BatchResult{Failed: map[string]error{}}
}

type Orchestrator struct {
	store         Store
	router        Router
	escalator     Escalator
	tracker       workload.Tracker
	notifier      notify.Notifier
	notifyTimeout time.Duration
	logger        *log.Logger
	now           func() time.Time

	wg sync.WaitGroup
}

func NewOrchestrator(s Store, router Router, escalator Escalator, tracker workload.Tracker, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[routing] ", log.LstdFlags)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		store:         s,
		router:        router,
		escalator:     escalator,
		tracker:       tracker,
		notifier:      cfg.Notifier,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// RouteAlert runs the rule chain (falling back to the default router), persists the
// decision as the alert's current assignment and refreshes the affected workloads.
func (o *Orchestrator) RouteAlert(ctx context.Context, rc models.RoutingContext) (models.Assignment, error) {
	res, err := o.router.Route(ctx, rc)
	if err != nil {
		return models.Assignment{}, err
	}
	return o.commit(ctx, rc.AlertID, res, nil, true)
}

// ReassignAlert moves an alert to newAgentID. The previous assignment stays in history.
func (o *Orchestrator) ReassignAlert(ctx context.Context, alertID, newAgentID, reason string) (models.Assignment, error) {
	if newAgentID == "" {
		return models.Assignment{}, fmt.Errorf("reassign alert %s: agent id required", alertID)
	}
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return models.Assignment{}, fmt.Errorf("load alert %s: %w", alertID, err)
	}
	if _, err := o.tracker.Reserve(ctx, newAgentID, 0); err != nil {
		return models.Assignment{}, fmt.Errorf("reserve %s: %w", newAgentID, err)
	}
	res := models.RoutingResult{AgentID: newAgentID, Strategy: models.StrategyManualReassignment}
	return o.commit(ctx, alertID, res, optional(reason), alert.Status.Active())
}

// EscalateAlert reassigns an alert to a randomly chosen supervisor or admin.
func (o *Orchestrator) EscalateAlert(ctx context.Context, alertID, reason string) (models.Assignment, error) {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return models.Assignment{}, fmt.Errorf("load alert %s: %w", alertID, err)
	}
	res, err := o.escalator.Escalate(ctx)
	if err != nil {
		return models.Assignment{}, fmt.Errorf("escalate alert %s: %w", alertID, err)
	}
	if res == nil {
		return models.Assignment{}, fmt.Errorf("escalate alert %s: %w", alertID, ErrNoSupervisors)
	}
	return o.commit(ctx, alertID, *res, optional(reason), alert.Status.Active())
}

// BulkAssign routes each alert independently. A failure is recorded and logged and
// does not stop the batch.
func (o *Orchestrator) BulkAssign(ctx context.Context, alertIDs []string) BatchResult {
	out := newBatchResult()
	for _, id := range alertIDs {
		a, err := o.routeStored(ctx, id)
		if err != nil {
			o.logger.Printf("bulk assign: alert %s failed: %v", id, err)
			out.Failed[id] = err
			continue
		}
		out.Assignments = append(out.Assignments, a)
	}
	return out
}

func (o *Orchestrator) routeStored(ctx context.Context, alertID string) (models.Assignment, error) {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return models.Assignment{}, fmt.Errorf("load alert %s: %w", alertID, err)
	}
	res, err := o.router.Route(ctx, alert.Context())
	if err != nil {
		return models.Assignment{}, err
	}
	return o.commit(ctx, alertID, res, nil, alert.Status.Active())
}

// UpdateAlertStatus records a status change and keeps agent capacity in step with it.
// Closing an alert frees its agent's slot; reopening one takes the slot back without
// checking the ceiling.
func (o *Orchestrator) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus) error {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("load alert %s: %w", alertID, err)
	}
	if err := o.store.UpdateAlertStatus(ctx, alertID, status); err != nil {
		return fmt.Errorf("update status of %s: %w", alertID, err)
	}
	if alert.Status.Active() == status.Active() {
		return nil
	}
	current, err := o.store.GetCurrentAssignment(ctx, alertID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load current assignment for %s: %w", alertID, err)
	}
	if status.Active() {
		if _, err := o.tracker.Reserve(ctx, current.AgentID, 0); err != nil {
			o.logger.Printf("reclaim capacity for %s: %v", current.AgentID, err)
		}
	} else {
		o.release(ctx, current.AgentID)
	}
	o.tracker.Invalidate(current.AgentID)
	return nil
}

// RetryUnassigned routes again every PENDING alert older than olderThan that never
// received an assignment, typically because routing failed when it arrived.
func (o *Orchestrator) RetryUnassigned(ctx context.Context, olderThan time.Duration) (BatchResult, error) {
	if olderThan <= 0 {
		olderThan = DefaultUnassignedGrace
	}
	ids, err := o.store.FindUnassignedPendingAlerts(ctx, o.now().UTC().Add(-olderThan))
	if err != nil {
		return BatchResult{}, fmt.Errorf("find unassigned alerts: %w", err)
	}
	return o.BulkAssign(ctx, ids), nil
}

// HandleStaleAlerts escalates every PENDING alert whose current assignment is older
// than maxAgeDays. Per-alert failures are recorded and the sweep continues.
func (o *Orchestrator) HandleStaleAlerts(ctx context.Context, maxAgeDays int) (BatchResult, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultStaleAfterDays
	}
	cutoff := o.now().UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	ids, err := o.store.FindStalePendingAlerts(ctx, cutoff)
	if err != nil {
		return BatchResult{}, fmt.Errorf("find stale alerts: %w", err)
	}
	out := newBatchResult()
	reason := fmt.Sprintf("unacknowledged for more than %d days", maxAgeDays)
	for _, id := range ids {
		a, err := o.EscalateAlert(ctx, id, reason)
		if err != nil {
			o.logger.Printf("stale sweep: alert %s failed: %v", id, err)
			out.Failed[id] = err
			continue
		}
		out.Assignments = append(out.Assignments, a)
	}
	return out, nil
}

// Wait blocks until in-flight notifications have been delivered or given up on.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// commit persists res as the current assignment, superseding any previous one, then
// releases and invalidates the agents involved. The reservation taken while choosing
// res is returned if the write fails. A closed alert holds no slot, so for one the new
// reservation is handed back and the prior agent is left alone.
func (o *Orchestrator) commit(ctx context.Context, alertID string, res models.RoutingResult, reason *string, active bool) (models.Assignment, error) {
	prior, err := o.store.GetCurrentAssignment(ctx, alertID)
	hasPrior := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.release(ctx, res.AgentID)
		return models.Assignment{}, fmt.Errorf("load current assignment for %s: %w", alertID, err)
	}

	in := store.AssignmentInput{
		AlertID:            alertID,
		AgentID:            res.AgentID,
		Strategy:           res.Strategy,
		ReassignmentReason: reason,
		AssignedAt:         o.now().UTC(),
	}
	if res.RuleID != "" {
		ruleID := res.RuleID
		in.RuleID = &ruleID
	}
	a, err := o.store.SaveAssignment(ctx, in)
	if err != nil {
		o.release(ctx, res.AgentID)
		return models.Assignment{}, fmt.Errorf("save assignment for %s: %w", alertID, err)
	}

	touched := []string{a.AgentID}
	if !active {
		o.release(ctx, a.AgentID)
	}
	if hasPrior {
		if active {
			o.release(ctx, prior.AgentID)
		}
		if prior.AgentID != a.AgentID {
			touched = append(touched, prior.AgentID)
		}
	}
	o.tracker.Invalidate(touched...)
	o.notifyAssigned(a)
	return a, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (o *Orchestrator) release(ctx context.Context, agentID string) {
	if err := o.tracker.Release(ctx, agentID); err != nil {
		o.logger.Printf("release capacity for %s: %v", agentID, err)
	}
}

func (o *Orchestrator) notifyAssigned(a models.Assignment) {
	if o.notifier == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.notifyTimeout)
		defer cancel()
		if err := o.notifier.AlertAssigned(ctx, a); err != nil {
			o.logger.Printf("notify assignment of alert %s: %v", a.AlertID, err)
		}
	}()
}
