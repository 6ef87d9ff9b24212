// Package secrets resolves indirect references of the form scheme://value
// so pipeline files never embed credentials. Plain strings resolve to
// themselves.
package secrets

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

const (
	schemeEnv    = "env://"
	schemeFile   = "file://"
	schemeStatic = "static://"
)

// Resolver maps secret references to their values. env:// reads the
// process environment, file:// reads a mounted secret file, static://
// strips the scheme and returns the remainder verbatim.
type Resolver struct {
	fs billy.Filesystem
}

// New returns a Resolver reading file:// references from fsys. Paths are
// interpreted relative to the filesystem root.
func New(fsys billy.Filesystem) *Resolver {
	return &Resolver{fs: fsys}
}

// NewOS returns a Resolver reading file:// references from the host root.
func NewOS() *Resolver {
	return New(osfs.New("/"))
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, schemeEnv):
		name := strings.TrimPrefix(ref, schemeEnv)
		v, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return v, nil

	case strings.HasPrefix(ref, schemeFile):
		path := strings.TrimPrefix(ref, schemeFile)
		return r.readFile(ctx, path)

	case strings.HasPrefix(ref, schemeStatic):
		return strings.TrimPrefix(ref, schemeStatic), nil

	default:
		return ref, nil
	}
}

// ResolveBytes is Resolve for binary material such as key rings.
func (r *Resolver) ResolveBytes(ctx context.Context, ref string) ([]byte, error) {
	v, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (r *Resolver) readFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := r.fs.Open(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("open secret file %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read secret file %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
