package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/censys/radio-survey/pkg/denylist"
	"github.com/censys/radio-survey/pkg/storage"
)

type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pool. Call EnsureSchema before using it.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the denylist table if it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
CREATE TABLE IF NOT EXISTS denylist (
  address TEXT PRIMARY KEY,
  note TEXT NOT NULL DEFAULT '',
  added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create denylist table: %w", err)
	}
	return nil
}

// UpsertEntry stores an address in normalized form. Re-adding an address
// replaces its note but keeps the original added_at.
func (r *Repository) UpsertEntry(ctx context.Context, entry storage.DenylistEntry) error {
	addr := denylist.Normalize(entry.Address)
	if addr == "" {
		return fmt.Errorf("upsert denylist entry: empty address")
	}
	added := entry.AddedAt
	if added.IsZero() {
		added = time.Now()
	}

	const query = `
INSERT INTO denylist (address, note, added_at)
VALUES ($1, $2, $3)
ON CONFLICT (address)
DO UPDATE SET note = EXCLUDED.note;
`
	if _, err := r.pool.Exec(ctx, query, addr, entry.Note, added.UTC()); err != nil {
		return fmt.Errorf("upsert denylist entry: %w", err)
	}
	return nil
}

// DeleteEntry removes an address and reports whether it existed.
func (r *Repository) DeleteEntry(ctx context.Context, address string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM denylist WHERE address = $1`, denylist.Normalize(address))
	if err != nil {
		return false, fmt.Errorf("delete denylist entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListEntries returns all entries ordered by address.
func (r *Repository) ListEntries(ctx context.Context) ([]storage.DenylistEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT address, note, added_at FROM denylist ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list denylist: %w", err)
	}
	defer rows.Close()

	var out []storage.DenylistEntry
	for rows.Next() {
		var e storage.DenylistEntry
		if err := rows.Scan(&e.Address, &e.Note, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan denylist row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list denylist: %w", err)
	}
	return out, nil
}

// FetchDenylist lets the repository serve as a denylist.Source.
func (r *Repository) FetchDenylist(ctx context.Context) ([]string, error) {
	entries, err := r.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", denylist.ErrFetch, err)
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, e.Address)
	}
	return addrs, nil
}

// Source adapts the repository to denylist.Source.
func (r *Repository) Source() denylist.Source {
	return sourceFunc(r.FetchDenylist)
}

type sourceFunc func(ctx context.Context) ([]string, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]string, error) { return f(ctx) }

// Close helps when wiring Repository to a lifecycle manager.
func (r *Repository) Close() {
	r.pool.Close()
}

// NewDB opens a pgx pool sized for an agent that reads the list once and an
// operator CLI that writes a row at a time.
func NewDB(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	cfg.MaxConns = 2
	cfg.MinConns = 0
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
