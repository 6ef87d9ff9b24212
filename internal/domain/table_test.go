package domain

import (
	"fmt"
	"strings"
	"testing"
)

func TestSchemaCompatible(t *testing.T) {
	table := TableSchema{Columns: []Column{
		{Name: "id", Type: "integer"},
		{Name: "amount", Type: "numeric"},
	}}

	if err := table.Compatible(TableSchema{Columns: []Column{{Name: "ID"}, {Name: "Amount"}}}); err != nil {
		t.Fatalf("case-insensitive match should pass: %v", err)
	}

	err := table.Compatible(TableSchema{Columns: []Column{{Name: "id"}}})
	if err == nil || !strings.Contains(err.Error(), "column count mismatch") {
		t.Fatalf("expected count mismatch, got %v", err)
	}

	err = table.Compatible(TableSchema{Columns: []Column{{Name: "id"}, {Name: "total"}}})
	if err == nil || !strings.Contains(err.Error(), `"amount"`) {
		t.Fatalf("expected name mismatch, got %v", err)
	}
}

func TestLoadReportMergeCapsErrors(t *testing.T) {
	var report LoadReport
	for i := 0; i < MaxLoadErrors+5; i++ {
		report.Merge(LoadReport{RowsLoaded: 10, RowsRejected: 1, Errors: []string{fmt.Sprintf("row %d", i)}})
	}
	if report.RowsLoaded != int64(10*(MaxLoadErrors+5)) {
		t.Fatalf("RowsLoaded=%d", report.RowsLoaded)
	}
	if report.RowsRejected != int64(MaxLoadErrors+5) {
		t.Fatalf("RowsRejected=%d", report.RowsRejected)
	}
	if len(report.Errors) != MaxLoadErrors {
		t.Fatalf("Errors length=%d, want %d", len(report.Errors), MaxLoadErrors)
	}
}

func TestLoadReportRejectRate(t *testing.T) {
	var empty LoadReport
	if got := empty.RejectRate(); got != 0 {
		t.Fatalf("empty report rate=%f, want 0", got)
	}

	report := LoadReport{RowsLoaded: 98}
	report.Reject("bad int")
	report.Reject("bad date")
	if got := report.RejectRate(); got != 0.02 {
		t.Fatalf("rate=%f, want 0.02", got)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("Errors length=%d, want 2", len(report.Errors))
	}
}
