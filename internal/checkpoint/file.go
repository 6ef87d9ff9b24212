package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
)

// File persists markers as one JSON document on a filesystem. Every
// mark rewrites the document to a sibling temp file and renames it into
// place, so a crash never leaves a truncated state file behind.
type File struct {
	fs   billy.Filesystem
	path string

	mu    sync.Mutex
	state map[string]map[string]time.Time
}

func NewFile(fsys billy.Filesystem, path string) (*File, error) {
	f := &File{fs: fsys, path: path, state: make(map[string]map[string]time.Time)}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	handle, err := f.fs.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open checkpoint file %s: %w", f.path, err)
	}
	defer handle.Close()

	data, err := io.ReadAll(handle)
	if err != nil {
		return fmt.Errorf("read checkpoint file %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &f.state); err != nil {
		return fmt.Errorf("decode checkpoint file %s: %w", f.path, err)
	}
	return nil
}

func (f *File) IsCompleted(ctx context.Context, pipeline, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state[pipeline][fingerprint]
	return ok, nil
}

func (f *File) MarkCompleted(ctx context.Context, pipeline, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.state[pipeline][fingerprint]; ok {
		return nil
	}
	if f.state[pipeline] == nil {
		f.state[pipeline] = make(map[string]time.Time)
	}
	f.state[pipeline][fingerprint] = time.Now().UTC()
	return f.flushLocked()
}

func (f *File) flushLocked() error {
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." && dir != "/" {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmp := f.path + ".tmp"
	handle, err := f.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := handle.Write(data); err != nil {
		_ = handle.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (f *File) Close() error { return nil }
