package bulkload

import (
	"testing"
	"time"

	"github.com/lychevd/ETL/internal/domain"
)

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		colType string
		in      string
		want    any
		wantErr bool
	}{
		{name: "integer", colType: "integer", in: "42", want: int64(42)},
		{name: "bigint spaced", colType: "bigint", in: " 7 ", want: int64(7)},
		{name: "numeric", colType: "numeric", in: "3.25", want: 3.25},
		{name: "double precision", colType: "double precision", in: "1.5", want: 1.5},
		{name: "boolean", colType: "boolean", in: "true", want: true},
		{name: "text passes through", colType: "character varying", in: "42", want: "42"},
		{name: "empty text stays empty", colType: "text", in: "", want: ""},
		{name: "empty numeric is null", colType: "numeric", in: "", want: nil},
		{name: "bad integer", colType: "integer", in: "4x", wantErr: true},
		{name: "bad boolean", colType: "bool", in: "si", wantErr: true},
		{name: "bad timestamp", colType: "timestamp", in: "yesterday", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceValue(tc.colType, tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("coerceValue() err=%v, wantErr=%v", err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Fatalf("coerceValue()=%v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestCoerceValueTimestampLayouts(t *testing.T) {
	for _, in := range []string{
		"2026-01-15T08:30:00Z",
		"2026-01-15T08:30:00",
		"2026-01-15 08:30:00",
		"2026-01-15",
	} {
		got, err := coerceValue("timestamp without time zone", in)
		if err != nil {
			t.Fatalf("coerceValue(%q) err=%v", in, err)
		}
		if _, ok := got.(time.Time); !ok {
			t.Fatalf("coerceValue(%q)=%T, want time.Time", in, got)
		}
	}
}

func TestCoerceRow(t *testing.T) {
	schema := domain.TableSchema{Columns: []domain.Column{
		{Name: "id", Type: "integer"},
		{Name: "note", Type: "text"},
	}}

	row, err := coerceRow(schema, domain.Row{"1", "ok"})
	if err != nil {
		t.Fatalf("coerceRow() err=%v", err)
	}
	if row[0] != int64(1) || row[1] != "ok" {
		t.Fatalf("row=%v", row)
	}

	if _, err := coerceRow(schema, domain.Row{"1"}); err == nil {
		t.Fatalf("expected width error")
	}
	if _, err := coerceRow(schema, domain.Row{"one", "ok"}); err == nil {
		t.Fatalf("expected value error")
	}
}

func TestCoerceRowPassesNonStringsThrough(t *testing.T) {
	schema := domain.TableSchema{Columns: []domain.Column{{Name: "id", Type: "integer"}}}
	row, err := coerceRow(schema, domain.Row{int64(9)})
	if err != nil {
		t.Fatalf("coerceRow() err=%v", err)
	}
	if row[0] != int64(9) {
		t.Fatalf("row=%v", row)
	}
}
