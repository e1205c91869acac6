package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ILLUVRSE/alert-routing/alert-router/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// AlertStore persists scored alerts and their lifecycle status.
type AlertStore interface {
	SaveAlert(ctx context.Context, in AlertInput) (models.Alert, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error
	FindStalePendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error)
	// FindUnassignedPendingAlerts lists PENDING alerts created before cutoff that have
	// never been given a current assignment.
	FindUnassignedPendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error)
}

// AssignmentStore persists assignment history. SaveAssignment supersedes any current
// assignment for the same alert.
type AssignmentStore interface {
	SaveAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error)
	GetCurrentAssignment(ctx context.Context, alertID string) (models.Assignment, error)
	ListAssignments(ctx context.Context, alertID string) ([]models.Assignment, error)
}

// DirectoryStore exposes the agent directory and the per-agent active alert counts.
type DirectoryStore interface {
	LoadAgentDirectory(ctx context.Context) ([]models.Agent, error)
	CountActiveAlertsForAgent(ctx context.Context, agentID string) (int, error)
}

// RuleStore is the source of truth for routing rules.
type RuleStore interface {
	ListRules(ctx context.Context) ([]models.RoutingRule, error)
	GetRule(ctx context.Context, id string) (models.RoutingRule, error)
	UpsertRule(ctx context.Context, in RuleInput) (models.RoutingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

type Store interface {
	AlertStore
	AssignmentStore
	DirectoryStore
	RuleStore
	Ping(ctx context.Context) error
}

type AlertInput struct {
	ID         string
	UserID     string
	AlertType  string
	Confidence float64
	Priority   models.Priority
	Territory  *string
	Metadata   map[string]interface{}
	Status     models.AlertStatus
}

type AssignmentInput struct {
	ID                 uuid.UUID
	AlertID            string
	AgentID            string
	Strategy           models.Strategy
	RuleID             *string
	ReassignmentReason *string
	AssignedAt         time.Time
}

type RuleInput struct {
	ID         string
	Name       string
	Priority   int
	Enabled    bool
	Conditions []models.Condition
	Actions    []models.Action
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) SaveAlert(ctx context.Context, in AlertInput) (models.Alert, error) {
	if in.Status == "" {
		in.Status = models.AlertStatusPending
	}
	metadata, err := models.MarshalMetadata(in.Metadata)
	if err != nil {
		return models.Alert{}, fmt.Errorf("encode alert metadata: %w", err)
	}
	query := `
		INSERT INTO alerts (id, user_id, alert_type, confidence, priority, territory, metadata, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id)
		DO UPDATE SET user_id = EXCLUDED.user_id,
			alert_type = EXCLUDED.alert_type,
			confidence = EXCLUDED.confidence,
			priority = EXCLUDED.priority,
			territory = EXCLUDED.territory,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING status, created_at
	`
	alert := models.Alert{
		ID:         in.ID,
		UserID:     in.UserID,
		AlertType:  in.AlertType,
		Confidence: in.Confidence,
		Priority:   in.Priority,
		Territory:  in.Territory,
		Metadata:   in.Metadata,
	}
	var status string
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.UserID, in.AlertType, in.Confidence, string(in.Priority), nullString(in.Territory), metadata, string(in.Status)).Scan(&status, &alert.CreatedAt); err != nil {
		return models.Alert{}, fmt.Errorf("save alert: %w", err)
	}
	alert.Status = models.AlertStatus(status)
	return alert, nil
}

func (s *PGStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	const query = `
		SELECT id, user_id, alert_type, confidence, priority, territory, metadata, status, created_at
		FROM alerts
		WHERE id=$1
	`
	var (
		alert     models.Alert
		priority  string
		status    string
		territory sql.NullString
		metadata  []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&alert.ID,
		&alert.UserID,
		&alert.AlertType,
		&alert.Confidence,
		&priority,
		&territory,
		&metadata,
		&status,
		&alert.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Alert{}, ErrNotFound
		}
		return models.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	alert.Priority = models.Priority(priority)
	alert.Status = models.AlertStatus(status)
	if territory.Valid {
		t := territory.String
		alert.Territory = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &alert.Metadata); err != nil {
			return models.Alert{}, fmt.Errorf("decode alert metadata: %w", err)
		}
	}
	return alert, nil
}

func (s *PGStore) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET status=$1, updated_at=NOW() WHERE id=$2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) FindStalePendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `
		SELECT a.id
		FROM alerts a
		JOIN alert_assignments s ON s.alert_id = a.id AND s.is_current
		WHERE a.status = 'PENDING' AND s.assigned_at < $1
		ORDER BY s.assigned_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale alerts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale alert: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) FindUnassignedPendingAlerts(ctx context.Context, cutoff time.Time) ([]string, error) {
	const query = `
		SELECT a.id
		FROM alerts a
		WHERE a.status = 'PENDING' AND a.created_at < $1
			AND NOT EXISTS (
				SELECT 1 FROM alert_assignments s WHERE s.alert_id = a.id AND s.is_current
			)
		ORDER BY a.created_at ASC, a.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find unassigned alerts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unassigned alert: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) SaveAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.AssignedAt.IsZero() {
		in.AssignedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Assignment{}, fmt.Errorf("begin assignment tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE alert_assignments SET is_current=FALSE WHERE alert_id=$1 AND is_current`, in.AlertID); err != nil {
		return models.Assignment{}, fmt.Errorf("supersede assignment: %w", err)
	}
	query := `
		INSERT INTO alert_assignments (id, alert_id, agent_id, strategy, rule_id, reassignment_reason, assigned_at, is_current)
		VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
	`
	if _, err := tx.ExecContext(ctx, query, in.ID, in.AlertID, in.AgentID, string(in.Strategy), nullString(in.RuleID), nullString(in.ReassignmentReason), in.AssignedAt); err != nil {
		return models.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Assignment{}, fmt.Errorf("commit assignment: %w", err)
	}
	return models.Assignment{
		ID:                 in.ID,
		AlertID:            in.AlertID,
		AgentID:            in.AgentID,
		Strategy:           in.Strategy,
		RuleID:             in.RuleID,
		AssignedAt:         in.AssignedAt,
		ReassignmentReason: in.ReassignmentReason,
		Current:            true,
	}, nil
}

const assignmentColumns = `id, alert_id, agent_id, strategy, rule_id, reassignment_reason, assigned_at, is_current`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (models.Assignment, error) {
	var (
		a        models.Assignment
		strategy string
		ruleID   sql.NullString
		reason   sql.NullString
	)
	if err := row.Scan(&a.ID, &a.AlertID, &a.AgentID, &strategy, &ruleID, &reason, &a.AssignedAt, &a.Current); err != nil {
		return models.Assignment{}, err
	}
	a.Strategy = models.Strategy(strategy)
	if ruleID.Valid {
		v := ruleID.String
		a.RuleID = &v
	}
	if reason.Valid {
		v := reason.String
		a.ReassignmentReason = &v
	}
	return a, nil
}

func (s *PGStore) GetCurrentAssignment(ctx context.Context, alertID string) (models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM alert_assignments WHERE alert_id=$1 AND is_current`
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Assignment{}, ErrNotFound
		}
		return models.Assignment{}, fmt.Errorf("get current assignment: %w", err)
	}
	return a, nil
}

func (s *PGStore) ListAssignments(ctx context.Context, alertID string) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM alert_assignments WHERE alert_id=$1 ORDER BY assigned_at ASC`
	rows, err := s.db.QueryContext(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	var out []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadAgentDirectory returns active accounts in a stable order (creation time, then id).
func (s *PGStore) LoadAgentDirectory(ctx context.Context) ([]models.Agent, error) {
	const query = `
		SELECT id, role, territories, skills, max_concurrent_alerts
		FROM agents
		WHERE active
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load agent directory: %w", err)
	}
	defer rows.Close()
	var agents []models.Agent
	for rows.Next() {
		var (
			agent models.Agent
			role  string
		)
		if err := rows.Scan(&agent.ID, &role, pq.Array(&agent.Territories), pq.Array(&agent.Skills), &agent.MaxConcurrentAlerts); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agent.Role = models.Role(role)
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func (s *PGStore) CountActiveAlertsForAgent(ctx context.Context, agentID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM alert_assignments s
		JOIN alerts a ON a.id = s.alert_id
		WHERE s.agent_id = $1 AND s.is_current AND a.status IN ('PENDING', 'ACKNOWLEDGED')
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active alerts: %w", err)
	}
	return n, nil
}

const ruleColumns = `id, name, priority, enabled, conditions, actions, created_at, updated_at`

func scanRule(row rowScanner) (models.RoutingRule, error) {
	var (
		rule       models.RoutingRule
		conditions []byte
		actions    []byte
	)
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Priority, &rule.Enabled, &conditions, &actions, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return models.RoutingRule{}, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return models.RoutingRule{}, fmt.Errorf("decode conditions for rule %s: %w", rule.ID, err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return models.RoutingRule{}, fmt.Errorf("decode actions for rule %s: %w", rule.ID, err)
		}
	}
	return rule, nil
}

// ListRules returns every rule, enabled or not, highest priority first.
func (s *PGStore) ListRules(ctx context.Context) ([]models.RoutingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules ORDER BY priority DESC, created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	var rules []models.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *PGStore) GetRule(ctx context.Context, id string) (models.RoutingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules WHERE id=$1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RoutingRule{}, ErrNotFound
		}
		return models.RoutingRule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) UpsertRule(ctx context.Context, in RuleInput) (models.RoutingRule, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	conditions, err := json.Marshal(orEmpty(in.Conditions))
	if err != nil {
		return models.RoutingRule{}, fmt.Errorf("encode conditions: %w", err)
	}
	actions, err := json.Marshal(orEmpty(in.Actions))
	if err != nil {
		return models.RoutingRule{}, fmt.Errorf("encode actions: %w", err)
	}
	query := `
		INSERT INTO routing_rules (id, name, priority, enabled, conditions, actions)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	rule := models.RoutingRule{
		ID:         in.ID,
		Name:       in.Name,
		Priority:   in.Priority,
		Enabled:    in.Enabled,
		Conditions: in.Conditions,
		Actions:    in.Actions,
	}
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.Name, in.Priority, in.Enabled, conditions, actions).Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.RoutingRule{}, fmt.Errorf("rule name %q: %w", in.Name, ErrConflict)
		}
		return models.RoutingRule{}, fmt.Errorf("upsert rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
