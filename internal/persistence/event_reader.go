package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"vaultcore/internal/event"
)

// EventReader reads the durable event log back for crash recovery. Restart
// replays every row past the restored snapshot's sequence so the fold state
// catches up with what was already finalized and acked upstream.
type EventReader struct {
	db *sql.DB
}

func NewEventReader(db *sql.DB) *EventReader {
	return &EventReader{db: db}
}

// ReadSince returns a vault's finalized envelopes with sequence greater
// than afterSeq, in sequence order.
func (r *EventReader) ReadSince(ctx context.Context, vaultID string, afterSeq int64) ([]event.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, chain_id, block_number, block_hash, log_index, tx_hash, event_type, payload, block_time
		FROM event_log
		WHERE vault_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, vaultID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("persistence: read event log: %w", err)
	}
	defer rows.Close()

	var out []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var (
			blockNumber int64
			logIndex    int64
			kindName    string
			payload     []byte
		)
		if err := rows.Scan(&env.Sequence, &env.ChainID, &blockNumber, &env.BlockHash,
			&logIndex, &env.TxHash, &kindName, &payload, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("persistence: scan event log: %w", err)
		}
		env.Vault = vaultID
		env.BlockNumber = uint64(blockNumber)
		env.LogIndex = uint32(logIndex)
		env.Kind = event.KindFromString(kindName)
		env.Finalized = true
		env.IdempotencyKey = event.ID{ChainID: env.ChainID, TxHash: env.TxHash, LogIndex: env.LogIndex}.Key()

		evt, err := event.DecodePayload(env.Kind, payload)
		if err != nil {
			return nil, fmt.Errorf("persistence: event %s: %w", env.IdempotencyKey, err)
		}
		env.Event = evt
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: read event log: %w", err)
	}
	return out, nil
}
