package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/docsync/pkg/dm"
)

// SQLite stores each accepted change as a row, keyed by document and history
// position, and the author roster as a base64 automerge document.
type SQLite struct {
	database *sql.DB
	id       string
}

// OpenSQLite opens or creates the database file and ensures the tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver serializes writers anyway; a single connection avoids
	// SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)
	s := &SQLite{database: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key text not null primary key,
			value text not null
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			doc text not null,
			start integer not null,
			body text not null,
			primary key (doc, start)
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			doc text not null primary key,
			roster text not null
		)`,
	} {
		if _, err := s.database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	if _, err := s.database.ExecContext(
		ctx, `INSERT OR IGNORE INTO meta (key, value) VALUES ('server_id', ?)`, newServerID(),
	); err != nil {
		return fmt.Errorf("failed to seed server id: %w", err)
	}
	if err := s.database.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'server_id'`).Scan(&s.id); err != nil {
		return fmt.Errorf("failed to read server id: %w", err)
	}
	slog.Info("Ensured initial tables exist", "server", s.id)
	return nil
}

func (s *SQLite) Close() error {
	return s.database.Close()
}

func (s *SQLite) ServerID() string {
	return s.id
}

func (s *SQLite) Load(ctx context.Context, doc string) (*dm.Change, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT body FROM changes WHERE doc = ? ORDER BY start`, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close", "err", err)
		}
	}(rows)
	var raws [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		raws = append(raws, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return joinChanges(raws)
}

func (s *SQLite) OnNewChange(ctx context.Context, doc string, change *dm.Change) error {
	if change.IsEmpty() {
		return nil
	}
	body, err := change.Serialize()
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	var end sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(start) FROM changes WHERE doc = ?`, doc).Scan(&end); err != nil {
		return fmt.Errorf("failed to query history end: %w", err)
	}
	if end.Valid {
		var last string
		if err := tx.QueryRowContext(ctx, `SELECT body FROM changes WHERE doc = ? AND start = ?`, doc, end.Int64).Scan(&last); err != nil {
			return fmt.Errorf("failed to query last change: %w", err)
		}
		prev, err := dm.DeserializeChange([]byte(last))
		if err != nil {
			return fmt.Errorf("failed to decode last change: %w", err)
		}
		if prev.End() != change.Start {
			return fmt.Errorf("%w: history ends at %d, change starts at %d", ErrGap, prev.End(), change.Start)
		}
	} else if change.Start != 0 {
		return fmt.Errorf("%w: history is empty, change starts at %d", ErrGap, change.Start)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO changes (doc, start, body) VALUES (?, ?, ?)`, doc, change.Start, string(body)); err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) LoadAuthors(ctx context.Context, doc string) ([]AuthorRecord, error) {
	var encoded string
	if err := s.database.QueryRowContext(ctx, `SELECT roster FROM authors WHERE doc = ?`, doc).Scan(&encoded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return DecodeRoster(raw)
}

func (s *SQLite) SaveAuthors(ctx context.Context, doc string, authors []AuthorRecord) error {
	raw, err := EncodeRoster(authors)
	if err != nil {
		return err
	}
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO authors (doc, roster) VALUES (?, ?) ON CONFLICT (doc) DO UPDATE SET roster = excluded.roster`,
		doc, base64.StdEncoding.EncodeToString(raw),
	); err != nil {
		return fmt.Errorf("failed to save roster: %w", err)
	}
	return nil
}

// Documents lists the names of documents with stored history.
func (s *SQLite) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT DISTINCT doc FROM changes ORDER BY doc`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
