package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"vaultcore/internal/event"
)

// EventWriter appends finalized envelopes to the durable event log. The
// unique index on (chain_id, tx_hash, log_index) makes retried batches
// harmless.
type EventWriter struct {
	db *sql.DB
}

func NewEventWriter(db *sql.DB) *EventWriter {
	return &EventWriter{db: db}
}

const eventColumns = 10

// buildEventInsert renders a multi-row insert for one batch.
func buildEventInsert(envs []event.Envelope) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO event_log
		(vault_id, sequence, chain_id, block_number, block_hash, log_index, tx_hash, event_type, payload, block_time)
		VALUES `)

	args := make([]interface{}, 0, len(envs)*eventColumns)
	for i, env := range envs {
		payload, err := json.Marshal(env.Event)
		if err != nil {
			return "", nil, fmt.Errorf("persistence: marshal %s: %w", env.IdempotencyKey, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * eventColumns
		sb.WriteString("(")
		for c := 1; c <= eventColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")
		args = append(args,
			env.Vault,
			env.Sequence,
			env.ChainID,
			int64(env.BlockNumber),
			env.BlockHash,
			int64(env.LogIndex),
			env.TxHash,
			env.Kind.String(),
			payload,
			env.Timestamp,
		)
	}
	sb.WriteString(` ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`)
	return sb.String(), args, nil
}

// WriteBatch persists a batch of finalized envelopes and their idempotency
// keys in one transaction.
func (w *EventWriter) WriteBatch(ctx context.Context, envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	query, args, err := buildEventInsert(envs)
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("persistence: insert events: %w", err)
	}

	keyQuery, keyArgs := buildKeyInsert(envs)
	if _, err := tx.ExecContext(ctx, keyQuery, keyArgs...); err != nil {
		return fmt.Errorf("persistence: insert keys: %w", err)
	}
	return tx.Commit()
}

func buildKeyInsert(envs []event.Envelope) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO processed_events (idempotency_key) VALUES `)
	args := make([]interface{}, 0, len(envs))
	for i, env := range envs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d)", i+1)
		args = append(args, env.IdempotencyKey)
	}
	sb.WriteString(` ON CONFLICT (idempotency_key) DO NOTHING`)
	return sb.String(), args
}
