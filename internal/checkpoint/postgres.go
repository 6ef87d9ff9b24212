package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
)

// DB is the slice of database/sql the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const createCheckpointsTable = `
CREATE TABLE IF NOT EXISTS etl_checkpoints (
	pipeline     TEXT        NOT NULL,
	fingerprint  TEXT        NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pipeline, fingerprint)
)`

const insertCheckpointQuery = `
INSERT INTO etl_checkpoints (pipeline, fingerprint)
VALUES ($1, $2)
ON CONFLICT (pipeline, fingerprint) DO NOTHING`

const selectCheckpointQuery = `
SELECT EXISTS (
	SELECT 1 FROM etl_checkpoints WHERE pipeline = $1 AND fingerprint = $2
)`

// Postgres keeps markers in a table shared by every pipeline, which
// makes delivery state visible next to the data it guards. The handle
// is owned by the caller; Close here is a no-op.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the marker table when it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createCheckpointsTable); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

func (p *Postgres) IsCompleted(ctx context.Context, pipeline, fingerprint string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, selectCheckpointQuery, pipeline, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checkpoint lookup: %w", err)
	}
	return exists, nil
}

func (p *Postgres) MarkCompleted(ctx context.Context, pipeline, fingerprint string) error {
	if _, err := p.db.ExecContext(ctx, insertCheckpointQuery, pipeline, fingerprint); err != nil {
		return fmt.Errorf("checkpoint insert: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return nil }
