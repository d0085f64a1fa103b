package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultcore/internal/core"
	"vaultcore/internal/ledger"
	"vaultcore/internal/position"
)

// ErrNoSnapshot means the vault has never been snapshotted; recovery starts
// from genesis.
var ErrNoSnapshot = errors.New("persistence: no snapshot")

// SnapshotStore persists finalized vault snapshots for crash recovery. Only
// the latest snapshot per vault matters, but history is kept for audit.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

type snapshotPayload struct {
	Ledger *ledger.VaultState `json:"ledger"`
	Book   *position.Book     `json:"book"`
}

func (s *SnapshotStore) Save(ctx context.Context, snap *core.Snapshot) error {
	payload, err := json.Marshal(snapshotPayload{Ledger: snap.Ledger, Book: snap.Book})
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_snapshots (vault_id, block_number, sequence, state_hash, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vault_id, block_number) DO UPDATE
		SET sequence = EXCLUDED.sequence,
		    state_hash = EXCLUDED.state_hash,
		    payload = EXCLUDED.payload`,
		snap.VaultID, int64(snap.Block), snap.Sequence, snap.StateHash.Hex(), payload)
	if err != nil {
		return fmt.Errorf("persistence: save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the newest snapshot for a vault.
func (s *SnapshotStore) LoadLatest(ctx context.Context, vaultID string) (*core.Snapshot, error) {
	var (
		block     int64
		sequence  int64
		hashHex   string
		payload   []byte
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT block_number, sequence, state_hash, payload, created_at
		FROM vault_snapshots
		WHERE vault_id = $1
		ORDER BY block_number DESC
		LIMIT 1`, vaultID).
		Scan(&block, &sequence, &hashHex, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: load snapshot: %w", err)
	}

	hash, err := core.ParseStateHash(hashHex)
	if err != nil {
		return nil, err
	}
	var body snapshotPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	if body.Ledger == nil || body.Book == nil {
		return nil, fmt.Errorf("persistence: snapshot for %s is incomplete", vaultID)
	}
	if body.Book.Positions == nil {
		body.Book.Positions = make(map[string]*position.Position)
	}

	return &core.Snapshot{
		VaultID:   vaultID,
		Sequence:  sequence,
		StateHash: hash,
		Ledger:    body.Ledger,
		Book:      body.Book,
		Block:     uint64(block),
		Finalized: true,
		UpdatedAt: createdAt,
	}, nil
}

// Prune drops snapshots older than keep for a vault, always retaining the
// newest row.
func (s *SnapshotStore) Prune(ctx context.Context, vaultID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vault_snapshots
		WHERE vault_id = $1
		AND block_number NOT IN (
			SELECT block_number FROM vault_snapshots
			WHERE vault_id = $1
			ORDER BY block_number DESC
			LIMIT $2
		)`, vaultID, keep)
	if err != nil {
		return fmt.Errorf("persistence: prune snapshots: %w", err)
	}
	return nil
}
