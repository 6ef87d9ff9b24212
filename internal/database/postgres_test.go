package database

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/lychevd/ETL/internal/domain"
)

type stubRows struct {
	rows []domain.Row
	err  error
	i    int
}

func (s *stubRows) Next(ctx context.Context) (domain.Row, error) {
	if s.i < len(s.rows) {
		row := s.rows[s.i]
		s.i++
		return row, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func TestCopySourceStreamsRows(t *testing.T) {
	src := &copySource{
		ctx:   context.Background(),
		rows:  &stubRows{rows: []domain.Row{{1, "a"}, {2, "b"}}},
		width: 2,
		table: "orders",
	}

	var got []domain.Row
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			t.Fatalf("Values() err=%v", err)
		}
		got = append(got, values)
	}
	if err := src.Err(); err != nil {
		t.Fatalf("Err()=%v", err)
	}
	if len(got) != 2 || got[0][1] != "a" || got[1][0] != 2 {
		t.Fatalf("rows=%v", got)
	}
}

func TestCopySourcePropagatesReaderError(t *testing.T) {
	wantErr := domain.IntegrityErr(errors.New("auth tag mismatch"))
	src := &copySource{
		ctx:   context.Background(),
		rows:  &stubRows{rows: []domain.Row{{1, "a"}}, err: wantErr},
		width: 2,
		table: "orders",
	}

	for src.Next() {
	}
	if !errors.Is(src.Err(), wantErr) {
		t.Fatalf("Err()=%v, want the reader error", src.Err())
	}
}

func TestCopySourceRejectsWrongWidth(t *testing.T) {
	src := &copySource{
		ctx:   context.Background(),
		rows:  &stubRows{rows: []domain.Row{{1, "a", "extra"}}},
		width: 2,
		table: "orders",
	}

	if src.Next() {
		t.Fatalf("Next() must stop on width mismatch")
	}
	if err := src.Err(); err == nil || domain.KindOf(err) != domain.KindSchemaMismatch {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
