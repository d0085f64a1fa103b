package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator applies SQL migrations from a directory. Files are named
// {version}_{name}.up.sql and run in version order inside a transaction
// each; applied versions are tracked in schema_migrations.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string, logger zerolog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		dir:    dir,
		logger: logger.With().Str("component", "migrator").Logger(),
	}
}

type migration struct {
	version int
	name    string
	path    string
}

func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("migrator: ensure table: %w", err)
	}

	migrations, err := m.load()
	if err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrator: read versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		body, err := os.ReadFile(mig.path)
		if err != nil {
			return fmt.Errorf("migrator: read %s: %w", mig.path, err)
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrator: apply %03d_%s: %w", mig.version, mig.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			mig.version, mig.name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		m.logger.Info().Int("version", mig.version).Str("name", mig.name).Msg("migration applied")
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Migrator) Down(ctx context.Context) error {
	var version int
	var name string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).
		Scan(&version, &name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("migrator: nothing to roll back")
	}
	if err != nil {
		return fmt.Errorf("migrator: read versions: %w", err)
	}

	path := filepath.Join(m.dir, fmt.Sprintf("%03d_%s.down.sql", version, name))
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("migrator: read %s: %w", path, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrator: roll back %03d_%s: %w", version, name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE version = $1`, version); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.logger.Info().Int("version", version).Str("name", name).Msg("migration rolled back")
	return nil
}

func (m *Migrator) load() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrator: read dir %s: %w", m.dir, err)
	}
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		base := strings.TrimSuffix(name, ".up.sql")
		idx := strings.Index(base, "_")
		if idx <= 0 {
			return nil, fmt.Errorf("migrator: bad migration name %s", name)
		}
		version, err := strconv.Atoi(base[:idx])
		if err != nil {
			return nil, fmt.Errorf("migrator: bad version in %s: %w", name, err)
		}
		out = append(out, migration{
			version: version,
			name:    base[idx+1:],
			path:    filepath.Join(m.dir, name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("migrator: duplicate version %d", out[i].version)
		}
	}
	return out, nil
}
