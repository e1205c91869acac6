package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// PriorityFromConfidence buckets a model confidence score into an alert priority.
func PriorityFromConfidence(confidence float64) Priority {
	switch {
	case confidence >= 0.7:
		return PriorityCritical
	case confidence >= 0.5:
		return PriorityHigh
	case confidence >= 0.3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "PENDING"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusDismissed    AlertStatus = "DISMISSED"
)

// Active reports whether an alert in this status counts against an agent's workload.
func (s AlertStatus) Active() bool {
	return s == AlertStatusPending || s == AlertStatusAcknowledged
}

type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Elevated reports whether the role can receive escalations.
func (r Role) Elevated() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

type Strategy string

const (
	StrategyRuleBased          Strategy = "rule_based"
	StrategyTerritoryBased     Strategy = "territory_based"
	StrategySkillBased         Strategy = "skill_based"
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyOverflow           Strategy = "overflow_assignment"
	StrategyEscalated          Strategy = "escalated"
	StrategyManualReassignment Strategy = "manual_reassignment"
)

type ActionType string

const (
	ActionAssignToAgent     ActionType = "assign_to_agent"
	ActionAssignToTerritory ActionType = "assign_to_territory"
	ActionAssignBySkill     ActionType = "assign_by_skill"
	ActionEscalate          ActionType = "escalate"
	ActionNotify            ActionType = "notify"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAssignToAgent, ActionAssignToTerritory, ActionAssignBySkill, ActionEscalate, ActionNotify:
		return true
	}
	return false
}

type Condition struct {
	Field    string      `json:"field" yaml:"field" toml:"field"`
	Operator Operator    `json:"operator" yaml:"operator" toml:"operator"`
	Value    interface{} `json:"value" yaml:"value" toml:"value"`
}

type Action struct {
	Type   ActionType             `json:"type" yaml:"type" toml:"type"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}

// StringParam returns params[key] when it is a non-empty string.
func (a Action) StringParam(key string) (string, bool) {
	v, ok := a.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// StringsParam returns params[key] as a string slice. A single string is treated as a
// one-element list.
func (a Action) StringsParam(key string) []string {
	switch v := a.Params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type RoutingRule struct {
	ID         string      `json:"id" yaml:"id" toml:"id"`
	Name       string      `json:"name" yaml:"name" toml:"name"`
	Priority   int         `json:"priority" yaml:"priority" toml:"priority"`
	Enabled    bool        `json:"enabled" yaml:"enabled" toml:"enabled"`
	Conditions []Condition `json:"conditions" yaml:"conditions" toml:"conditions"`
	Actions    []Action    `json:"actions" yaml:"actions" toml:"actions"`
	CreatedAt  time.Time   `json:"createdAt" yaml:"-" toml:"-"`
	UpdatedAt  time.Time   `json:"updatedAt" yaml:"-" toml:"-"`
}

// Agent is a directory entry for an account that can receive alerts.
type Agent struct {
	ID                  string   `json:"agentId"`
	Role                Role     `json:"role"`
	Territories         []string `json:"territories"`
	Skills              []string `json:"skills"`
	MaxConcurrentAlerts int      `json:"maxConcurrentAlerts"`
}

type AgentWorkload struct {
	AgentID             string   `json:"agentId"`
	ActiveAlerts        int      `json:"activeAlerts"`
	MaxConcurrentAlerts int      `json:"maxConcurrentAlerts"`
	AvailableCapacity   int      `json:"availableCapacity"`
	Territories         []string `json:"territories"`
	Skills              []string `json:"skills"`
}

// NewAgentWorkload derives capacity fields from the active count and ceiling.
func NewAgentWorkload(agent Agent, active int) AgentWorkload {
	available := agent.MaxConcurrentAlerts - active
	if available < 0 {
		available = 0
	}
	return AgentWorkload{
		AgentID:             agent.ID,
		ActiveAlerts:        active,
		MaxConcurrentAlerts: agent.MaxConcurrentAlerts,
		AvailableCapacity:   available,
		Territories:         agent.Territories,
		Skills:              agent.Skills,
	}
}

func (w AgentWorkload) HasTerritory(territory string) bool {
	for _, t := range w.Territories {
		if t == territory {
			return true
		}
	}
	return false
}

// HasSkills reports whether the agent's skills are a superset of required.
func (w AgentWorkload) HasSkills(required []string) bool {
	have := make(map[string]struct{}, len(w.Skills))
	for _, s := range w.Skills {
		have[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

type Alert struct {
	ID         string                 `json:"alertId"`
	UserID     string                 `json:"userId"`
	AlertType  string                 `json:"alertType"`
	Confidence float64                `json:"confidence"`
	Priority   Priority               `json:"priority"`
	Territory  *string                `json:"territory,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Status     AlertStatus            `json:"status"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// Context builds the read-only routing view of the alert.
func (a Alert) Context() RoutingContext {
	return RoutingContext{
		AlertID:    a.ID,
		UserID:     a.UserID,
		AlertType:  a.AlertType,
		Confidence: a.Confidence,
		Priority:   a.Priority,
		Territory:  a.Territory,
		Metadata:   a.Metadata,
	}
}

type Assignment struct {
	ID                 uuid.UUID `json:"id"`
	AlertID            string    `json:"alertId"`
	AgentID            string    `json:"agentId"`
	Strategy           Strategy  `json:"assignmentStrategy"`
	RuleID             *string   `json:"ruleId,omitempty"`
	AssignedAt         time.Time `json:"assignedAt"`
	ReassignmentReason *string   `json:"reassignmentReason,omitempty"`
	Current            bool      `json:"current"`
}

// RoutingResult is what a strategy or rule produces before it is persisted.
type RoutingResult struct {
	AgentID  string   `json:"agentId"`
	Strategy Strategy `json:"strategy"`
	RuleID   string   `json:"ruleId,omitempty"`
}

// RuleNotification is emitted by notify actions.
type RuleNotification struct {
	AlertID string                 `json:"alertId"`
	RuleID  string                 `json:"ruleId"`
	Channel string                 `json:"channel,omitempty"`
	Message string                 `json:"message,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Ts      time.Time              `json:"ts"`
}

// MarshalMetadata encodes alert metadata for storage. A nil map is stored as {}.
func MarshalMetadata(m map[string]interface{}) (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}
