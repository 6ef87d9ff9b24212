// Package database defines the load-target contract and its Postgres
// and generic SQL implementations.
package database

import (
	"context"
	"regexp"

	"github.com/lychevd/ETL/internal/domain"
)

// RowReader streams decoded rows. Next returns io.EOF when the stream
// is exhausted.
type RowReader interface {
	Next(ctx context.Context) (domain.Row, error)
}

// Backend is a uniform surface over one relational target.
//
// BulkLoad appends the whole stream to table in one atomic batch:
// either every row lands or none do. ExecStatement runs one statement
// and returns the affected row count. Introspect reports the live
// column structure of table.
//
// Implementations classify their failures with domain error kinds.
type Backend interface {
	Name() string
	BulkLoad(ctx context.Context, table string, schema domain.TableSchema, rows RowReader) (domain.LoadReport, error)
	ExecStatement(ctx context.Context, stmt string, args ...any) (int64, error)
	Introspect(ctx context.Context, table string) (domain.TableSchema, error)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTableName restricts targets to plain, optionally
// schema-qualified identifiers so generated statements never need
// escaping.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return domain.Configf("invalid table name %q", table)
	}
	return nil
}

func splitTableName(table string) (schema, name string) {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[:i], table[i+1:]
		}
	}
	return "public", table
}

func rowWidthErr(table string, want, got int) error {
	return domain.Schemaf("table %s expects %d column(s), row has %d", table, want, got)
}
