package transfer

import (
	"context"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/lychevd/ETL/internal/domain"
)

func seedLocal(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range map[string]string{
		"in/orders_1.csv":  "id,amount\n1,10\n",
		"in/orders_2.csv":  "id,amount\n2,20\n",
		"in/readme.txt":    "not a report",
		"in/archive/x.csv": "nested",
	} {
		if err := util.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) err=%v", name, err)
		}
	}
	return fs
}

func TestLocalListFiltersAndSorts(t *testing.T) {
	backend, err := NewLocal(seedLocal(t), LocalConfig{Dir: "in", Pattern: "orders_*.csv"})
	if err != nil {
		t.Fatalf("NewLocal() err=%v", err)
	}

	units, err := backend.List(context.Background())
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(units) != 2 {
		t.Fatalf("List() returned %d units, want 2", len(units))
	}
	if units[0].Path != "in/orders_1.csv" || units[1].Path != "in/orders_2.csv" {
		t.Fatalf("unexpected order: %s, %s", units[0].Path, units[1].Path)
	}
	if units[0].Size != int64(len("id,amount\n1,10\n")) {
		t.Fatalf("Size=%d", units[0].Size)
	}
}

func TestLocalReadRoundTrip(t *testing.T) {
	backend, err := NewLocal(seedLocal(t), LocalConfig{Dir: "in"})
	if err != nil {
		t.Fatalf("NewLocal() err=%v", err)
	}

	r, err := backend.OpenRead(context.Background(), domain.TransferUnit{Name: "orders_1.csv", Path: "in/orders_1.csv"})
	if err != nil {
		t.Fatalf("OpenRead() err=%v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() err=%v", err)
	}
	if string(data) != "id,amount\n1,10\n" {
		t.Fatalf("content=%q", data)
	}
}

func TestLocalOpenReadMissingIsPermanent(t *testing.T) {
	backend, _ := NewLocal(seedLocal(t), LocalConfig{Dir: "in"})
	_, err := backend.OpenRead(context.Background(), domain.TransferUnit{Name: "gone.csv", Path: "in/gone.csv"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if kind := domain.KindOf(err); kind != domain.KindPermanent {
		t.Fatalf("kind=%s, want permanent", kind)
	}
}

func TestLocalWriteCommitsOnClose(t *testing.T) {
	fs := memfs.New()
	backend, _ := NewLocal(fs, LocalConfig{Dir: "out"})

	w, err := backend.OpenWrite(context.Background(), domain.TransferUnit{Name: "report.csv", Path: "in/report.csv"})
	if err != nil {
		t.Fatalf("OpenWrite() err=%v", err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}

	data, err := util.ReadFile(fs, "out/report.csv")
	if err != nil {
		t.Fatalf("ReadFile() err=%v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("content=%q", data)
	}
	if _, err := fs.Stat("out/report.csv.partial"); err == nil {
		t.Fatalf("staged file must be gone after commit")
	}
}

func TestLocalWriteAbortLeavesNothing(t *testing.T) {
	fs := memfs.New()
	backend, _ := NewLocal(fs, LocalConfig{Dir: "out"})

	w, err := backend.OpenWrite(context.Background(), domain.TransferUnit{Name: "report.csv", Path: "in/report.csv"})
	if err != nil {
		t.Fatalf("OpenWrite() err=%v", err)
	}
	if _, err := w.Write([]byte("half a pay")); err != nil {
		t.Fatalf("Write() err=%v", err)
	}
	if err := Discard(w); err != nil {
		t.Fatalf("Discard() err=%v", err)
	}

	if _, err := fs.Stat("out/report.csv"); err == nil {
		t.Fatalf("aborted unit must not be committed")
	}
	if _, err := fs.Stat("out/report.csv.partial"); err == nil {
		t.Fatalf("staged file must be removed on abort")
	}
}

func TestLocalDeleteAndMoveDone(t *testing.T) {
	fs := seedLocal(t)
	backend, _ := NewLocal(fs, LocalConfig{Dir: "in", DoneDir: "in/done"})
	ctx := context.Background()

	if err := backend.Delete(ctx, domain.TransferUnit{Name: "readme.txt", Path: "in/readme.txt"}); err != nil {
		t.Fatalf("Delete() err=%v", err)
	}
	if _, err := fs.Stat("in/readme.txt"); err == nil {
		t.Fatalf("deleted file must be gone")
	}

	if err := backend.MoveDone(ctx, domain.TransferUnit{Name: "orders_1.csv", Path: "in/orders_1.csv"}); err != nil {
		t.Fatalf("MoveDone() err=%v", err)
	}
	if _, err := fs.Stat("in/done/orders_1.csv"); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}
	if _, err := fs.Stat("in/orders_1.csv"); err == nil {
		t.Fatalf("original must be gone after move")
	}
}

func TestLocalMoveDoneRequiresDoneDir(t *testing.T) {
	backend, _ := NewLocal(seedLocal(t), LocalConfig{Dir: "in"})
	err := backend.MoveDone(context.Background(), domain.TransferUnit{Name: "orders_1.csv", Path: "in/orders_1.csv"})
	if err == nil || domain.KindOf(err) != domain.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLocalConfigValidate(t *testing.T) {
	if _, err := NewLocal(memfs.New(), LocalConfig{}); err == nil {
		t.Fatalf("expected dir error")
	}
	if _, err := NewLocal(memfs.New(), LocalConfig{Dir: "in", Pattern: "[bad"}); err == nil {
		t.Fatalf("expected pattern error")
	}
}
