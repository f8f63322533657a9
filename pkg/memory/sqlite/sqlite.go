// Copyright 2026 © The Sextant Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite persists episodes in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/jllopis/sextant/pkg/memory"
	"github.com/jllopis/sextant/pkg/telemetry"
)

const episodeTable = "sextant_episodes"

// Backend implements memory.Backend with one row per episode.
type Backend struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
}

var _ memory.Backend = (*Backend)(nil)

// Open opens the database at dsn, e.g. "file:episodes.db", and ensures the
// schema.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	b, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.owned = true
	return b, nil
}

// New wraps an open database and ensures the schema.
func New(db *sql.DB) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Backend{db: db, logger: telemetry.Component(slog.Default(), "memory.sqlite")}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			outcome TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			episode_json BLOB NOT NULL
		);`, episodeTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at);`, episodeTable, episodeTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database when it was opened by Open.
func (b *Backend) Close() error {
	if b.owned {
		return b.db.Close()
	}
	return nil
}

// Load implements memory.Backend. Rows that do not decode are skipped.
func (b *Backend) Load(ctx context.Context) ([]memory.Episode, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, episode_json FROM %s ORDER BY created_at, seq`, episodeTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Episode
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var e memory.Episode
		if err := json.Unmarshal(raw, &e); err != nil {
			b.logger.WarnContext(ctx, "memory.load.corrupt", slog.String("episode_id", id), slog.String("error", err.Error()))
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Save implements memory.Backend in a single transaction.
func (b *Backend) Save(ctx context.Context, episodes []memory.Episode) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, episodeTable)); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, outcome, created_at, episode_json) VALUES (?, ?, ?, ?)`, episodeTable))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range episodes {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Outcome), e.Timestamp.UnixNano(), raw); err != nil {
			return fmt.Errorf("insert episode %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}
