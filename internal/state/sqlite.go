package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/picklr-io/dockstate/internal/ir"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resources (
	address  TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data     TEXT NOT NULL
);`

// sqliteBackend keeps one row per resource plus version, serial and lineage
// in a meta table.
type sqliteBackend struct {
	db *sql.DB
}

func newSQLiteBackend(ctx context.Context, path string) (*sqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite state %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite state: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Read(ctx context.Context) (*ir.State, error) {
	st := ir.NewState()

	rows, err := b.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to read state meta: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan state meta: %w", err)
		}
		switch key {
		case "version":
			st.Version, _ = strconv.Atoi(value)
		case "serial":
			st.Serial, _ = strconv.Atoi(value)
		case "lineage":
			st.Lineage = value
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read state meta: %w", err)
	}

	rows, err = b.db.QueryContext(ctx, "SELECT data FROM resources ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to read state resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan state resource: %w", err)
		}
		rs, err := decodeResource([]byte(data))
		if err != nil {
			return nil, err
		}
		st.Resources = append(st.Resources, rs)
	}
	return st, rows.Err()
}

// Write replaces the stored document in one transaction.
func (b *sqliteBackend) Write(ctx context.Context, st *ir.State) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state transaction: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"version": strconv.Itoa(st.Version),
		"serial":  strconv.Itoa(st.Serial),
		"lineage": st.Lineage,
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value); err != nil {
			return fmt.Errorf("failed to write state meta: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM resources"); err != nil {
		return fmt.Errorf("failed to clear state resources: %w", err)
	}
	for i, rs := range st.Resources {
		data, err := encodeResource(rs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO resources (address, position, data) VALUES (?, ?, ?)",
			rs.Address().String(), i, string(data)); err != nil {
			return fmt.Errorf("failed to write %s: %w", rs.Address(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
