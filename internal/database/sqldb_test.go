package database

import (
	"strings"
	"testing"

	"github.com/lychevd/ETL/internal/domain"
)

func TestInsertStatementDollar(t *testing.T) {
	stmt := insertStatement("public.orders", []string{"id", "amount"}, 2, PlaceholderDollar)
	want := "INSERT INTO public.orders (id, amount) VALUES ($1, $2), ($3, $4)"
	if stmt != want {
		t.Fatalf("stmt=%q, want %q", stmt, want)
	}
}

func TestInsertStatementQuestion(t *testing.T) {
	stmt := insertStatement("orders", []string{"id", "amount", "ts"}, 2, PlaceholderQuestion)
	if !strings.HasPrefix(stmt, "INSERT INTO orders (id, amount, ts) VALUES ") {
		t.Fatalf("stmt=%q", stmt)
	}
	if strings.Count(stmt, "?") != 6 {
		t.Fatalf("placeholder count=%d, want 6", strings.Count(stmt, "?"))
	}
}

func TestNewSQLRejectsUnknownPlaceholder(t *testing.T) {
	_, err := NewSQL(nil, "mysql", "percent")
	if err == nil || domain.KindOf(err) != domain.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestValidateTableName(t *testing.T) {
	for _, ok := range []string{"orders", "public.orders", "stage_2024", "Reports.daily_totals"} {
		if err := ValidateTableName(ok); err != nil {
			t.Fatalf("ValidateTableName(%q) err=%v", ok, err)
		}
	}
	for _, bad := range []string{"", "orders; DROP TABLE x", "a.b.c", "1orders", `or"ders`} {
		if err := ValidateTableName(bad); err == nil {
			t.Fatalf("ValidateTableName(%q) must fail", bad)
		}
	}
}

func TestSplitTableName(t *testing.T) {
	schema, name := splitTableName("stage.orders")
	if schema != "stage" || name != "orders" {
		t.Fatalf("split=%s.%s", schema, name)
	}
	schema, name = splitTableName("orders")
	if schema != "public" || name != "orders" {
		t.Fatalf("split=%s.%s", schema, name)
	}
}
