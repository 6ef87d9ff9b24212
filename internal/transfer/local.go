package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/lychevd/ETL/internal/domain"
)

// LocalConfig selects one directory on a mounted filesystem.
type LocalConfig struct {
	Dir string
	// Pattern optionally filters listed units by base name glob.
	Pattern string
	// DoneDir enables MoveDone: processed units are renamed into it.
	DoneDir string
}

func (c LocalConfig) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("dir is required")
	}
	if c.Pattern != "" {
		if err := validatePattern(c.Pattern); err != nil {
			return fmt.Errorf("pattern %q: %w", c.Pattern, err)
		}
	}
	return nil
}

// Local reads and writes units as files in one directory. It is used for
// mounted volumes and as the staging area between paired backends.
type Local struct {
	fs  billy.Filesystem
	cfg LocalConfig
}

func NewLocal(fsys billy.Filesystem, cfg LocalConfig) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	return &Local{fs: fsys, cfg: cfg}, nil
}

func (l *Local) Name() string { return "local:" + l.cfg.Dir }

func (l *Local) List(ctx context.Context) ([]domain.TransferUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := l.fs.ReadDir(l.cfg.Dir)
	if err != nil {
		return nil, classifyFileErr("list "+l.cfg.Dir, err)
	}

	var units []domain.TransferUnit
	for _, info := range infos {
		if info.IsDir() || !matchPattern(l.cfg.Pattern, info.Name()) {
			continue
		}
		units = append(units, domain.TransferUnit{
			Name:    info.Name(),
			Path:    l.fs.Join(l.cfg.Dir, info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

func (l *Local) OpenRead(ctx context.Context, unit domain.TransferUnit) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(unit.Path)
	if err != nil {
		return nil, classifyFileErr("open "+unit.Path, err)
	}
	return f, nil
}

// OpenWrite stages the unit beside its final path and renames it into
// place on Close. Abort removes the staged file.
func (l *Local) OpenWrite(ctx context.Context, unit domain.TransferUnit) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.fs.MkdirAll(l.cfg.Dir, 0o755); err != nil {
		return nil, classifyFileErr("mkdir "+l.cfg.Dir, err)
	}
	target := l.fs.Join(l.cfg.Dir, unit.Name)
	staged := target + ".partial"
	f, err := l.fs.Create(staged)
	if err != nil {
		return nil, classifyFileErr("create "+staged, err)
	}
	return &stagedLocalWriter{f: f, fs: l.fs, staged: staged, target: target}, nil
}

func (l *Local) Delete(ctx context.Context, unit domain.TransferUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classifyFileErr("remove "+unit.Path, l.fs.Remove(unit.Path))
}

// MoveDone renames the unit into DoneDir.
func (l *Local) MoveDone(ctx context.Context, unit domain.TransferUnit) error {
	if l.cfg.DoneDir == "" {
		return domain.Configf("done dir is not configured for %s", l.Name())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.fs.MkdirAll(l.cfg.DoneDir, 0o755); err != nil {
		return classifyFileErr("mkdir "+l.cfg.DoneDir, err)
	}
	done := l.fs.Join(l.cfg.DoneDir, unit.Name)
	return classifyFileErr("rename "+unit.Path, l.fs.Rename(unit.Path, done))
}

type stagedLocalWriter struct {
	f      billy.File
	fs     billy.Filesystem
	staged string
	target string
}

func (w *stagedLocalWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = classifyFileErr("write "+w.staged, err)
	}
	return n, err
}

func (w *stagedLocalWriter) Close() error {
	if err := w.f.Close(); err != nil {
		return classifyFileErr("close "+w.staged, err)
	}
	return classifyFileErr("rename "+w.staged, w.fs.Rename(w.staged, w.target))
}

func (w *stagedLocalWriter) Abort() error {
	_ = w.f.Close()
	return classifyFileErr("remove "+w.staged, w.fs.Remove(w.staged))
}
