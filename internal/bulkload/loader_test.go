package bulkload

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lychevd/ETL/internal/database"
	"github.com/lychevd/ETL/internal/domain"
)

// fakeDB records chunk submissions and can fail a configured chunk.
type fakeDB struct {
	schema     domain.TableSchema
	chunks     [][]domain.Row
	failChunk  int // 1-based; 0 disables
	statements []string
}

func newFakeDB(cols ...string) *fakeDB {
	schema := domain.TableSchema{}
	for _, c := range cols {
		name, typ, _ := strings.Cut(c, " ")
		schema.Columns = append(schema.Columns, domain.Column{Name: name, Type: typ})
	}
	return &fakeDB{schema: schema}
}

func (f *fakeDB) Name() string { return "fake" }

func (f *fakeDB) BulkLoad(ctx context.Context, table string, schema domain.TableSchema, rows database.RowReader) (domain.LoadReport, error) {
	var chunk []domain.Row
	for {
		row, err := rows.Next(ctx)
		if err != nil {
			break
		}
		chunk = append(chunk, row)
	}
	if f.failChunk > 0 && len(f.chunks)+1 == f.failChunk {
		return domain.LoadReport{}, domain.Transientf("connection reset during chunk %d", f.failChunk)
	}
	f.chunks = append(f.chunks, chunk)
	return domain.LoadReport{RowsLoaded: int64(len(chunk))}, nil
}

func (f *fakeDB) ExecStatement(ctx context.Context, stmt string, args ...any) (int64, error) {
	f.statements = append(f.statements, stmt)
	return 0, nil
}

func (f *fakeDB) Introspect(ctx context.Context, table string) (domain.TableSchema, error) {
	return f.schema, nil
}

func (f *fakeDB) loaded() int {
	var n int
	for _, c := range f.chunks {
		n += len(c)
	}
	return n
}

func csvSource(t *testing.T, body string, opts CSVOptions) *CSVReader {
	t.Helper()
	return NewCSVReader(strings.NewReader(body), opts)
}

func TestLoaderChunksInInputOrder(t *testing.T) {
	db := newFakeDB("id integer", "amount numeric")
	loader, err := New(db, Options{ChunkSize: 2})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	src := csvSource(t, "id,amount\n1,10.5\n2,20\n3,30\n4,40\n5,50\n", CSVOptions{Header: true})
	report, err := loader.Load(context.Background(), "orders", src)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if report.RowsLoaded != 5 || report.RowsRejected != 0 {
		t.Fatalf("report=%+v, want 5 loaded", report)
	}
	if len(db.chunks) != 3 {
		t.Fatalf("chunks=%d, want 3", len(db.chunks))
	}
	if got := db.chunks[0][0][0]; got != int64(1) {
		t.Fatalf("first row id=%v (%T), want int64(1)", got, got)
	}
	if got := db.chunks[2][0][1]; got != float64(50) {
		t.Fatalf("last row amount=%v (%T), want float64(50)", got, got)
	}
}

func TestLoaderAbortsOnFirstRejectionByDefault(t *testing.T) {
	db := newFakeDB("id integer", "amount numeric")
	loader, _ := New(db, Options{ChunkSize: 2})

	// Chunk 1 (rows 1-2) commits; chunk 2 contains the corrupt row.
	src := csvSource(t, "1,10\n2,20\n3,not-a-number\n4,40\n", CSVOptions{})
	report, err := loader.Load(context.Background(), "orders", src)
	if err == nil {
		t.Fatalf("expected abort error")
	}
	if kind := domain.KindOf(err); kind != domain.KindSchemaMismatch {
		t.Fatalf("kind=%s, want schema_mismatch", kind)
	}
	if report.RowsLoaded != 2 {
		t.Fatalf("RowsLoaded=%d, want 2 (only the committed chunk)", report.RowsLoaded)
	}
	if report.RowsRejected != 1 {
		t.Fatalf("RowsRejected=%d, want 1", report.RowsRejected)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "amount") {
		t.Fatalf("Errors=%v, want one message naming the column", report.Errors)
	}
	if db.loaded() != 2 {
		t.Fatalf("backend received %d row(s), want 2", db.loaded())
	}
}

func TestLoaderToleratesRejectsBelowThreshold(t *testing.T) {
	db := newFakeDB("id integer")
	loader, _ := New(db, Options{ChunkSize: 4, MaxRejectRate: 0.5})

	src := csvSource(t, "1\nbad\n3\n4\n5\n", CSVOptions{})
	report, err := loader.Load(context.Background(), "ids", src)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if report.RowsLoaded != 4 || report.RowsRejected != 1 {
		t.Fatalf("report=%+v, want 4 loaded / 1 rejected", report)
	}
}

func TestLoaderHeaderMismatchIsTerminal(t *testing.T) {
	db := newFakeDB("id integer", "amount numeric")
	loader, _ := New(db, Options{})

	src := csvSource(t, "id,total\n1,10\n", CSVOptions{Header: true})
	_, err := loader.Load(context.Background(), "orders", src)
	if err == nil {
		t.Fatalf("expected schema mismatch")
	}
	if kind := domain.KindOf(err); kind != domain.KindSchemaMismatch {
		t.Fatalf("kind=%s, want schema_mismatch", kind)
	}
	if len(db.chunks) != 0 {
		t.Fatalf("no chunk may be submitted after a header mismatch")
	}
}

func TestLoaderReportsCommittedRowsOnBackendError(t *testing.T) {
	db := newFakeDB("id integer")
	db.failChunk = 2
	loader, _ := New(db, Options{ChunkSize: 2})

	src := csvSource(t, "1\n2\n3\n4\n", CSVOptions{})
	report, err := loader.Load(context.Background(), "ids", src)
	if err == nil {
		t.Fatalf("expected backend error")
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("transient backend error must stay retryable, got %v", err)
	}
	if report.RowsLoaded != 2 {
		t.Fatalf("RowsLoaded=%d, want 2", report.RowsLoaded)
	}
}

func TestLoaderEmptyStream(t *testing.T) {
	db := newFakeDB("id integer")
	loader, _ := New(db, Options{})

	report, err := loader.Load(context.Background(), "ids", csvSource(t, "", CSVOptions{}))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if report.RowsLoaded != 0 || len(db.chunks) != 0 {
		t.Fatalf("empty stream must not submit, report=%+v", report)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{}},
		{name: "tuned", opts: Options{ChunkSize: 1000, MaxRejectRate: 0.1}},
		{name: "negative chunk", opts: Options{ChunkSize: -1}, wantErr: true},
		{name: "rate too high", opts: Options{MaxRejectRate: 1}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(nil, Options{})
	if err == nil || domain.KindOf(err) != domain.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	var f *domain.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected classified fault")
	}
}
