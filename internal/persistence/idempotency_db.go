package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresIdempotency is the durable tier behind the engines' in-memory
// dedup LRU. Keys land here together with their event-log rows.
type PostgresIdempotency struct {
	db *sql.DB
}

func NewPostgresIdempotency(db *sql.DB) *PostgresIdempotency {
	return &PostgresIdempotency{db: db}
}

func (p *PostgresIdempotency) IsProcessed(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE idempotency_key = $1)`,
		key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("persistence: idempotency lookup: %w", err)
	}
	return exists, nil
}

func (p *PostgresIdempotency) MarkProcessed(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO processed_events (idempotency_key) VALUES `)
	args := make([]interface{}, 0, len(keys))
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d)", i+1)
		args = append(args, key)
	}
	sb.WriteString(` ON CONFLICT (idempotency_key) DO NOTHING`)
	if _, err := p.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("persistence: mark processed: %w", err)
	}
	return nil
}
