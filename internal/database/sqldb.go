package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lychevd/ETL/internal/domain"
)

// Placeholder selects the bind-parameter dialect of the target.
type Placeholder string

const (
	PlaceholderDollar   Placeholder = "dollar"   // $1, $2, ...
	PlaceholderQuestion Placeholder = "question" // ?, ?, ...
)

// maxStatementArgs bounds the parameters bound to one INSERT so the
// statement stays under every supported server's limit.
const maxStatementArgs = 30000

// maxRowsPerStatement keeps single statements at a size servers parse
// comfortably even for narrow tables.
const maxRowsPerStatement = 500

// SQL loads through database/sql with multi-row INSERT statements, for
// targets where the COPY protocol is unavailable.
type SQL struct {
	db          *sql.DB
	name        string
	placeholder Placeholder
}

func NewSQL(db *sql.DB, name string, placeholder Placeholder) (*SQL, error) {
	switch placeholder {
	case PlaceholderDollar, PlaceholderQuestion:
	default:
		return nil, domain.Configf("unknown placeholder style %q", placeholder)
	}
	if strings.TrimSpace(name) == "" {
		name = "sql"
	}
	return &SQL{db: db, name: name, placeholder: placeholder}, nil
}

func (s *SQL) Name() string { return s.name }

// BulkLoad appends the stream inside one transaction, batching rows
// into multi-row INSERTs. Any failure rolls the whole call back.
func (s *SQL) BulkLoad(ctx context.Context, table string, schema domain.TableSchema, rows RowReader) (domain.LoadReport, error) {
	if err := ValidateTableName(table); err != nil {
		return domain.LoadReport{}, err
	}
	cols := schema.Names()
	if len(cols) == 0 {
		return domain.LoadReport{}, domain.Schemaf("table %s: schema has no columns", table)
	}
	rowsPerStmt := maxStatementArgs / len(cols)
	if rowsPerStmt > maxRowsPerStatement {
		rowsPerStmt = maxRowsPerStatement
	}
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LoadReport{}, classifyDBErr("begin", err)
	}

	var total int64
	batch := make([]domain.Row, 0, rowsPerStmt)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stmt := insertStatement(table, cols, len(batch), s.placeholder)
		args := make([]any, 0, len(batch)*len(cols))
		for _, row := range batch {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return classifyDBErr("insert into "+table, err)
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		row, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = tx.Rollback()
			return domain.LoadReport{}, err
		}
		if len(row) != len(cols) {
			_ = tx.Rollback()
			return domain.LoadReport{}, rowWidthErr(table, len(cols), len(row))
		}
		batch = append(batch, row)
		if len(batch) == rowsPerStmt {
			if err := flush(); err != nil {
				_ = tx.Rollback()
				return domain.LoadReport{}, err
			}
		}
	}
	if err := flush(); err != nil {
		_ = tx.Rollback()
		return domain.LoadReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LoadReport{}, classifyDBErr("commit", err)
	}
	return domain.LoadReport{RowsLoaded: total}, nil
}

func (s *SQL) ExecStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, classifyDBErr("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report counts for DDL-ish statements.
		return 0, nil
	}
	return n, nil
}

// Introspect selects zero rows to read the column metadata the driver
// reports, which works across engines without catalog queries.
func (s *SQL) Introspect(ctx context.Context, table string) (domain.TableSchema, error) {
	if err := ValidateTableName(table); err != nil {
		return domain.TableSchema{}, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table+" WHERE 1=0")
	if err != nil {
		return domain.TableSchema{}, classifyDBErr("introspect "+table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return domain.TableSchema{}, classifyDBErr("introspect "+table, err)
	}
	if len(types) == 0 {
		return domain.TableSchema{}, domain.Permanentf("table %s has no columns", table)
	}
	cols := make([]domain.Column, len(types))
	for i, ct := range types {
		cols[i] = domain.Column{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
	}
	return domain.TableSchema{Columns: cols}, nil
}

func insertStatement(table string, cols []string, rowCount int, placeholder Placeholder) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			if placeholder == PlaceholderDollar {
				fmt.Fprintf(&b, "$%d", arg)
				arg++
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte(')')
	}
	return b.String()
}
