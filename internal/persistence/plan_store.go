package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultcore/internal/planner"
)

// PlanStore keeps generated rebalance plans and their lifecycle.
type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

type planBody struct {
	Moves    []planner.Move      `json:"moves"`
	Excluded []planner.Exclusion `json:"excluded,omitempty"`
}

func (s *PlanStore) Save(ctx context.Context, p *planner.Plan) error {
	body, err := json.Marshal(planBody{Moves: p.Moves, Excluded: p.Excluded})
	if err != nil {
		return fmt.Errorf("persistence: marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rebalance_plans
		(plan_id, vault_id, generated_at, expires_at, status, estimated_slippage_bps, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.PlanID, p.VaultID, p.GeneratedAt, p.ExpiresAt, p.Status.String(), p.EstimatedSlippageBps, body)
	if err != nil {
		return fmt.Errorf("persistence: save plan: %w", err)
	}
	return nil
}

// SetStatus transitions a plan. Only active plans move.
func (s *PlanStore) SetStatus(ctx context.Context, planID uuid.UUID, status planner.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rebalance_plans SET status = $2
		WHERE plan_id = $1 AND status = $3`,
		planID, status.String(), planner.StatusActive.String())
	if err != nil {
		return fmt.Errorf("persistence: update plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("persistence: plan %s is not active", planID)
	}
	return nil
}

// LoadActive returns a vault's still-valid active plans.
func (s *PlanStore) LoadActive(ctx context.Context, vaultID string, now time.Time) ([]*planner.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_id, generated_at, expires_at, estimated_slippage_bps, body
		FROM rebalance_plans
		WHERE vault_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY generated_at DESC`,
		vaultID, planner.StatusActive.String(), now)
	if err != nil {
		return nil, fmt.Errorf("persistence: load plans: %w", err)
	}
	defer rows.Close()

	var out []*planner.Plan
	for rows.Next() {
		p := &planner.Plan{VaultID: vaultID, Status: planner.StatusActive}
		var body []byte
		if err := rows.Scan(&p.PlanID, &p.GeneratedAt, &p.ExpiresAt, &p.EstimatedSlippageBps, &body); err != nil {
			return nil, err
		}
		var decoded planBody
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("persistence: decode plan %s: %w", p.PlanID, err)
		}
		p.Moves = decoded.Moves
		p.Excluded = decoded.Excluded
		out = append(out, p)
	}
	return out, rows.Err()
}
