package database

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lychevd/ETL/internal/domain"
)

const introspectQuery = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Postgres loads through the COPY protocol on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Name() string { return "postgres" }

// BulkLoad streams rows into table with COPY. Any failure discards
// every row of the call.
func (p *Postgres) BulkLoad(ctx context.Context, table string, schema domain.TableSchema, rows RowReader) (domain.LoadReport, error) {
	if err := ValidateTableName(table); err != nil {
		return domain.LoadReport{}, err
	}
	src := &copySource{ctx: ctx, rows: rows, width: len(schema.Columns), table: table}
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier(strings.Split(table, ".")), schema.Names(), src)
	if err != nil {
		return domain.LoadReport{}, classifyDBErr("copy into "+table, err)
	}
	return domain.LoadReport{RowsLoaded: n}, nil
}

func (p *Postgres) ExecStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, classifyDBErr("exec", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Introspect(ctx context.Context, table string) (domain.TableSchema, error) {
	if err := ValidateTableName(table); err != nil {
		return domain.TableSchema{}, err
	}
	schemaName, tableName := splitTableName(table)

	rows, err := p.pool.Query(ctx, introspectQuery, schemaName, tableName)
	if err != nil {
		return domain.TableSchema{}, classifyDBErr("introspect "+table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return domain.TableSchema{}, classifyDBErr("introspect "+table, err)
		}
		cols = append(cols, domain.Column{Name: name, Type: strings.ToLower(typ)})
	}
	if err := rows.Err(); err != nil {
		return domain.TableSchema{}, classifyDBErr("introspect "+table, err)
	}
	if len(cols) == 0 {
		return domain.TableSchema{}, domain.Permanentf("table %s not found", table)
	}
	return domain.TableSchema{Columns: cols}, nil
}

// copySource adapts a RowReader to pgx.CopyFromSource.
type copySource struct {
	ctx   context.Context
	rows  RowReader
	width int
	table string
	cur   domain.Row
	err   error
}

func (s *copySource) Next() bool {
	row, err := s.rows.Next(s.ctx)
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	if len(row) != s.width {
		s.err = rowWidthErr(s.table, s.width, len(row))
		return false
	}
	s.cur = row
	return true
}

func (s *copySource) Values() ([]any, error) { return s.cur, nil }

func (s *copySource) Err() error { return s.err }
