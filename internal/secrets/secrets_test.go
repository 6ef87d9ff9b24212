package secrets

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func TestResolvePlainValuesPassThrough(t *testing.T) {
	r := New(memfs.New())
	got, err := r.Resolve(context.Background(), "sftp.example.com")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if got != "sftp.example.com" {
		t.Fatalf("Resolve()=%q", got)
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("ETL_TEST_SECRET", "hunter2")
	r := New(memfs.New())

	got, err := r.Resolve(context.Background(), "env://ETL_TEST_SECRET")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if got != "hunter2" {
		t.Fatalf("Resolve()=%q", got)
	}

	if _, err := r.Resolve(context.Background(), "env://ETL_TEST_UNSET_SECRET"); err == nil {
		t.Fatalf("expected error for unset variable")
	}
}

func TestResolveFile(t *testing.T) {
	fs := memfs.New()
	if err := util.WriteFile(fs, "run/secrets/db-password", []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	r := New(fs)

	got, err := r.Resolve(context.Background(), "file:///run/secrets/db-password")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if got != "s3cret" {
		t.Fatalf("trailing newline must be trimmed, got %q", got)
	}

	if _, err := r.Resolve(context.Background(), "file:///run/secrets/missing"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolveStatic(t *testing.T) {
	r := New(memfs.New())
	got, err := r.Resolve(context.Background(), "static://env://not-a-ref")
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if got != "env://not-a-ref" {
		t.Fatalf("Resolve()=%q", got)
	}
}
