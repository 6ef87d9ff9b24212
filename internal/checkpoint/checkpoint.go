// Package checkpoint records which units a pipeline already delivered,
// keyed by unit fingerprint, so re-runs can skip them instead of
// delivering twice.
package checkpoint

import (
	"context"
	"sync"
)

// Store persists Completed markers across runs. Implementations must
// tolerate duplicate MarkCompleted calls for the same unit: retries and
// overlapping re-runs produce them.
type Store interface {
	IsCompleted(ctx context.Context, pipeline, fingerprint string) (bool, error)
	MarkCompleted(ctx context.Context, pipeline, fingerprint string) error
	Close() error
}

// Memory keeps markers for the lifetime of the process. It backs tests
// and single-invocation runs where skip-on-rerun is not needed.
type Memory struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]map[string]struct{})}
}

func (m *Memory) IsCompleted(ctx context.Context, pipeline, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[pipeline][fingerprint]
	return ok, nil
}

func (m *Memory) MarkCompleted(ctx context.Context, pipeline, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[pipeline] == nil {
		m.seen[pipeline] = make(map[string]struct{})
	}
	m.seen[pipeline][fingerprint] = struct{}{}
	return nil
}

func (m *Memory) Close() error { return nil }
