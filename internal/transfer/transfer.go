// Package transfer defines the adapter contract for listing and moving
// units between storage systems, plus the adapters for object stores,
// SFTP servers, local directories, and HTTP report endpoints.
package transfer

import (
	"context"
	"io"
	"path"

	"github.com/lychevd/ETL/internal/domain"
)

// Backend is a uniform surface over one storage system. List enumerates
// candidate units in a deterministic order; OpenRead and OpenWrite
// stream one unit's content; Delete removes a unit from the backend.
//
// Implementations classify failures with domain error kinds so the
// pipeline can decide retries without knowing the underlying driver.
type Backend interface {
	Name() string
	List(ctx context.Context) ([]domain.TransferUnit, error)
	OpenRead(ctx context.Context, unit domain.TransferUnit) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, unit domain.TransferUnit) (io.WriteCloser, error)
	Delete(ctx context.Context, unit domain.TransferUnit) error
}

// Renamer is implemented by backends that can move a processed unit
// aside instead of deleting it.
type Renamer interface {
	MoveDone(ctx context.Context, unit domain.TransferUnit) error
}

// Aborter is implemented by writers that can discard a partially written
// unit. Close commits the unit; Abort leaves no trace of it.
type Aborter interface {
	Abort() error
}

// Discard drops a partial write, falling back to Close for writers that
// cannot abort.
func Discard(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

func matchPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

func validatePattern(pattern string) error {
	_, err := path.Match(pattern, "probe")
	return err
}
