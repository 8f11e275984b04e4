package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astromechza/docsync/pkg/dm"
)

// Postgres is the server deployment store. It has the same layout as SQLite
// with the roster held as bytea.
type Postgres struct {
	pool *pgxpool.Pool
	id   string
}

// OpenPostgres connects to databaseURL and ensures the tables exist.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Connected to PostgreSQL", "server", p.id)
	return p, nil
}

func (p *Postgres) init(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS docsync_meta (
			key text not null primary key,
			value text not null
		)`,
		`CREATE TABLE IF NOT EXISTS docsync_changes (
			doc text not null,
			start integer not null,
			body jsonb not null,
			primary key (doc, start)
		)`,
		`CREATE TABLE IF NOT EXISTS docsync_authors (
			doc text not null primary key,
			roster bytea not null
		)`,
	} {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	if _, err := p.pool.Exec(
		ctx, `INSERT INTO docsync_meta (key, value) VALUES ('server_id', $1) ON CONFLICT (key) DO NOTHING`, newServerID(),
	); err != nil {
		return fmt.Errorf("failed to seed server id: %w", err)
	}
	if err := p.pool.QueryRow(ctx, `SELECT value FROM docsync_meta WHERE key = 'server_id'`).Scan(&p.id); err != nil {
		return fmt.Errorf("failed to read server id: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) ServerID() string {
	return p.id
}

func (p *Postgres) Load(ctx context.Context, doc string) (*dm.Change, error) {
	rows, err := p.pool.Query(ctx, `SELECT body FROM docsync_changes WHERE doc = $1 ORDER BY start`, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raws, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]byte, error) {
		var body []byte
		err := row.Scan(&body)
		return body, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return joinChanges(raws)
}

func (p *Postgres) OnNewChange(ctx context.Context, doc string, change *dm.Change) error {
	if change.IsEmpty() {
		return nil
	}
	body, err := change.Serialize()
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var last []byte
		err := tx.QueryRow(ctx, `SELECT body FROM docsync_changes WHERE doc = $1 ORDER BY start DESC LIMIT 1 FOR UPDATE`, doc).Scan(&last)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if change.Start != 0 {
				return fmt.Errorf("%w: history is empty, change starts at %d", ErrGap, change.Start)
			}
		case err != nil:
			return fmt.Errorf("failed to query last change: %w", err)
		default:
			prev, err := dm.DeserializeChange(last)
			if err != nil {
				return fmt.Errorf("failed to decode last change: %w", err)
			}
			if prev.End() != change.Start {
				return fmt.Errorf("%w: history ends at %d, change starts at %d", ErrGap, prev.End(), change.Start)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO docsync_changes (doc, start, body) VALUES ($1, $2, $3)`, doc, change.Start, body); err != nil {
			return fmt.Errorf("failed to insert change: %w", err)
		}
		return nil
	})
}

func (p *Postgres) LoadAuthors(ctx context.Context, doc string) ([]AuthorRecord, error) {
	var raw []byte
	if err := p.pool.QueryRow(ctx, `SELECT roster FROM docsync_authors WHERE doc = $1`, doc).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	return DecodeRoster(raw)
}

func (p *Postgres) SaveAuthors(ctx context.Context, doc string, authors []AuthorRecord) error {
	raw, err := EncodeRoster(authors)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(
		ctx, `INSERT INTO docsync_authors (doc, roster) VALUES ($1, $2) ON CONFLICT (doc) DO UPDATE SET roster = excluded.roster`,
		doc, raw,
	); err != nil {
		return fmt.Errorf("failed to save roster: %w", err)
	}
	return nil
}
