package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL DEFAULT 'agent',
	territories TEXT[] NOT NULL DEFAULT '{}',
	skills TEXT[] NOT NULL DEFAULT '{}',
	max_concurrent_alerts INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	priority TEXT NOT NULL,
	territory TEXT,
	metadata JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alert_assignments (
	id UUID PRIMARY KEY,
	alert_id TEXT NOT NULL REFERENCES alerts(id),
	agent_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	rule_id TEXT,
	reassignment_reason TEXT,
	assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_current BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE UNIQUE INDEX IF NOT EXISTS alert_assignments_current_idx
	ON alert_assignments (alert_id) WHERE is_current;

CREATE INDEX IF NOT EXISTS alert_assignments_agent_idx
	ON alert_assignments (agent_id) WHERE is_current;

CREATE TABLE IF NOT EXISTS routing_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	conditions JSONB NOT NULL DEFAULT '[]',
	actions JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agent_capacity (
	agent_id TEXT PRIMARY KEY,
	reserved INTEGER NOT NULL DEFAULT 0
);
`

// Migrate creates the tables the router needs if they do not already exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
