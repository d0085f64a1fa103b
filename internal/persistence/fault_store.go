package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vaultcore/internal/fault"
)

// FaultStore records consistency faults for audit and operator review.
type FaultStore struct {
	db *sql.DB
}

func NewFaultStore(db *sql.DB) *FaultStore {
	return &FaultStore{db: db}
}

func (s *FaultStore) Save(ctx context.Context, f *fault.Fault) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consistency_faults
		(fault_id, vault_id, kind, chain_id, tx_hash, log_index, detail, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fault_id) DO NOTHING`,
		f.FaultID, f.Vault, f.Kind.String(),
		f.EventID.ChainID, f.EventID.TxHash, int64(f.EventID.LogIndex), f.Detail, f.ObservedAt)
	if err != nil {
		return fmt.Errorf("persistence: save fault: %w", err)
	}
	return nil
}

// Acknowledge stamps a fault as reviewed.
func (s *FaultStore) Acknowledge(ctx context.Context, faultID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consistency_faults SET acknowledged_at = now()
		WHERE fault_id = $1 AND acknowledged_at IS NULL`, faultID)
	if err != nil {
		return fmt.Errorf("persistence: acknowledge fault: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("persistence: fault %s not found or already acknowledged", faultID)
	}
	return nil
}

// ListOpen returns unacknowledged faults, optionally scoped to one vault.
func (s *FaultStore) ListOpen(ctx context.Context, vaultID string) ([]*fault.Fault, error) {
	query := `
		SELECT fault_id, vault_id, kind, chain_id, tx_hash, log_index, detail, observed_at
		FROM consistency_faults
		WHERE acknowledged_at IS NULL`
	args := []interface{}{}
	if vaultID != "" {
		query += ` AND vault_id = $1`
		args = append(args, vaultID)
	}
	query += ` ORDER BY observed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: list faults: %w", err)
	}
	defer rows.Close()

	var out []*fault.Fault
	for rows.Next() {
		f := &fault.Fault{}
		var kind string
		var logIndex int64
		if err := rows.Scan(&f.FaultID, &f.Vault, &kind,
			&f.EventID.ChainID, &f.EventID.TxHash, &logIndex,
			&f.Detail, &f.ObservedAt); err != nil {
			return nil, err
		}
		f.Kind = fault.KindFromString(kind)
		f.EventID.LogIndex = uint32(logIndex)
		out = append(out, f)
	}
	return out, rows.Err()
}
