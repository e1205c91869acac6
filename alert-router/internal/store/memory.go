package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      []models.Agent
	alerts      map[string]models.Alert
	assignments map[string][]models.Assignment
	rules       map[string]memoryRule
	ruleSeq     int
}

type memoryRule struct {
	rule models.RoutingRule
	seq  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:      map[string]models.Alert{},
		assignments: map[string][]models.Assignment{},
		rules:       map[string]memoryRule{},
	}
}

// PutAgent adds or replaces a directory entry. Insertion order is the directory order.
func (m *MemoryStore) PutAgent(agent models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.agents {
		if existing.ID == agent.ID {
			m.agents[i] = agent
			return
		}
	}
	m.agents = append(m.agents, agent)
}

func (m *MemoryStore) RemoveAgent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.agents {
		if existing.ID == id {
			m.agents = append(m.agents[:i], m.agents[i+1:]...)
			return
		}
	}
}

func (m *MemoryStore) SaveAlert(ctx context.Context, in AlertInput) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert := models.Alert{
		ID:         in.ID,
		UserID:     in.UserID,
		AlertType:  in.AlertType,
		Confidence: in.Confidence,
		Priority:   in.Priority,
		Territory:  in.Territory,
		Metadata:   in.Metadata,
		Status:     in.Status,
		CreatedAt:  time.Now().UTC(),
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusPending
	}
	if existing, ok := m.alerts[in.ID]; ok {
		alert.Status = existing.Status
		alert.CreatedAt = existing.CreatedAt
	}
	m.alerts[in.ID] = alert
	return alert, nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	return alert, nil
}

func (m *MemoryStore) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	alert.Status = status
	m.alerts[id] = alert
	return nil
}

func (m *MemoryStore) FindStalePendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type stale struct {
		id string
		at time.Time
	}
	var found []stale
	for id, alert := range m.alerts {
		if alert.Status != models.AlertStatusPending {
			continue
		}
		current, ok := currentOf(m.assignments[id])
		if !ok || !current.AssignedAt.Before(cutoff) {
			continue
		}
		found = append(found, stale{id: id, at: current.AssignedAt})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].at.Equal(found[j].at) {
			return found[i].id < found[j].id
		}
		return found[i].at.Before(found[j].at)
	})
	ids := make([]string, 0, len(found))
	for _, s := range found {
		ids = append(ids, s.id)
	}
	return ids, nil
}

func (m *MemoryStore) FindUnassignedPendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []models.Alert
	for id, alert := range m.alerts {
		if alert.Status != models.AlertStatusPending || !alert.CreatedAt.Before(cutoff) {
			continue
		}
		if _, ok := currentOf(m.assignments[id]); ok {
			continue
		}
		found = append(found, alert)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].ID < found[j].ID
		}
		return found[i].CreatedAt.Before(found[j].CreatedAt)
	})
	ids := make([]string, 0, len(found))
	for _, a := range found {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (m *MemoryStore) SaveAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.AssignedAt.IsZero() {
		in.AssignedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.assignments[in.AlertID]
	for i := range history {
		history[i].Current = false
	}
	a := models.Assignment{
		ID:                 in.ID,
		AlertID:            in.AlertID,
		AgentID:            in.AgentID,
		Strategy:           in.Strategy,
		RuleID:             in.RuleID,
		AssignedAt:         in.AssignedAt,
		ReassignmentReason: in.ReassignmentReason,
		Current:            true,
	}
	m.assignments[in.AlertID] = append(history, a)
	return a, nil
}

func (m *MemoryStore) GetCurrentAssignment(ctx context.Context, alertID string) (models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := currentOf(m.assignments[alertID])
	if !ok {
		return models.Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListAssignments(ctx context.Context, alertID string) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Assignment(nil), m.assignments[alertID]...), nil
}

func currentOf(history []models.Assignment) (models.Assignment, bool) {
	for _, a := range history {
		if a.Current {
			return a, true
		}
	}
	return models.Assignment{}, false
}

func (m *MemoryStore) LoadAgentDirectory(ctx context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Agent(nil), m.agents...), nil
}

func (m *MemoryStore) CountActiveAlertsForAgent(ctx context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for alertID, history := range m.assignments {
		current, ok := currentOf(history)
		if !ok || current.AgentID != agentID {
			continue
		}
		if m.alerts[alertID].Status.Active() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListRules(ctx context.Context) ([]models.RoutingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]memoryRule, 0, len(m.rules))
	for _, r := range m.rules {
		entries = append(entries, r)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rule.Priority != entries[j].rule.Priority {
			return entries[i].rule.Priority > entries[j].rule.Priority
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]models.RoutingRule, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rule)
	}
	return out, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id string) (models.RoutingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return models.RoutingRule{}, ErrNotFound
	}
	return r.rule, nil
}

func (m *MemoryStore) UpsertRule(ctx context.Context, in RuleInput) (models.RoutingRule, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rules {
		if id != in.ID && r.rule.Name == in.Name {
			return models.RoutingRule{}, fmt.Errorf("rule name %q: %w", in.Name, ErrConflict)
		}
	}
	now := time.Now().UTC()
	entry, exists := m.rules[in.ID]
	if !exists {
		m.ruleSeq++
		entry = memoryRule{seq: m.ruleSeq}
		entry.rule.CreatedAt = now
	}
	entry.rule.ID = in.ID
	entry.rule.Name = in.Name
	entry.rule.Priority = in.Priority
	entry.rule.Enabled = in.Enabled
	entry.rule.Conditions = in.Conditions
	entry.rule.Actions = in.Actions
	entry.rule.UpdatedAt = now
	m.rules[in.ID] = entry
	return entry.rule, nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
