package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PGReserver keeps a durable per-agent reservation counter in agent_capacity. Reserve is a
// single conditional upsert, so concurrent routers cannot push an agent past its ceiling.
type PGReserver struct {
	db *sql.DB
}

func NewPGReserver(db *sql.DB) *PGReserver {
	return &PGReserver{db: db}
}

// Reserve increments the agent's counter when it is below max. A max <= 0 means unbounded.
func (r *PGReserver) Reserve(ctx context.Context, agentID string, max int) (bool, error) {
	query := `
		INSERT INTO agent_capacity (agent_id, reserved)
		VALUES ($1, 1)
		ON CONFLICT (agent_id)
		DO UPDATE SET reserved = agent_capacity.reserved + 1
		WHERE $2 <= 0 OR agent_capacity.reserved < $2
		RETURNING reserved
	`
	var reserved int
	err := r.db.QueryRowContext(ctx, query, agentID, max).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve capacity: %w", err)
	}
	return true, nil
}

func (r *PGReserver) Release(ctx context.Context, agentID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE agent_capacity SET reserved = GREATEST(reserved - 1, 0) WHERE agent_id=$1`, agentID); err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	return nil
}

// SeedIfAbsent creates the agent's counter at count. An existing counter is left as is.
func (r *PGReserver) SeedIfAbsent(ctx context.Context, agentID string, count int) error {
	query := `
		INSERT INTO agent_capacity (agent_id, reserved)
		VALUES ($1, $2)
		ON CONFLICT (agent_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, agentID, count); err != nil {
		return fmt.Errorf("seed capacity: %w", err)
	}
	return nil
}
