package domain

import (
	"fmt"
	"strings"
)

// Column describes one column of a load target.
type Column struct {
	Name string
	// Type is the database-reported type name, lower-cased.
	Type string
}

// TableSchema is the ordered column list of a load target.
type TableSchema struct {
	Columns []Column
}

// Names returns the column names in table order.
func (s TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Compatible reports whether rows shaped like input can be loaded into a
// table shaped like s. Names are matched case-insensitively and in
// order; value types are left to the database to enforce.
func (s TableSchema) Compatible(input TableSchema) error {
	if len(input.Columns) != len(s.Columns) {
		return fmt.Errorf("column count mismatch: table has %d, input has %d", len(s.Columns), len(input.Columns))
	}
	for i, c := range s.Columns {
		if !strings.EqualFold(c.Name, input.Columns[i].Name) {
			return fmt.Errorf("column %d: table has %q, input has %q", i+1, c.Name, input.Columns[i].Name)
		}
	}
	return nil
}

// Row is one record of a tabular unit, ordered to match the target schema.
type Row []any

// MaxLoadErrors caps how many row-level error messages a LoadReport keeps.
const MaxLoadErrors = 10

// LoadReport aggregates bulk load counters for one unit.
type LoadReport struct {
	RowsLoaded   int64
	RowsRejected int64
	// Errors holds up to MaxLoadErrors row-level messages in arrival order.
	Errors []string
}

// Merge folds o into r, respecting the error message cap.
func (r *LoadReport) Merge(o LoadReport) {
	r.RowsLoaded += o.RowsLoaded
	r.RowsRejected += o.RowsRejected
	for _, e := range o.Errors {
		if len(r.Errors) >= MaxLoadErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

// Reject counts one rejected row, keeping the first MaxLoadErrors messages.
func (r *LoadReport) Reject(msg string) {
	r.RowsRejected++
	if len(r.Errors) < MaxLoadErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// RejectRate returns the rejected fraction of all rows seen so far, in
// [0, 1]. An empty report has rate 0.
func (r LoadReport) RejectRate() float64 {
	total := r.RowsLoaded + r.RowsRejected
	if total == 0 {
		return 0
	}
	return float64(r.RowsRejected) / float64(total)
}
