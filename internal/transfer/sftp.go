package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/platform/sftpconn"
)

// SFTPConfig selects one remote directory.
type SFTPConfig struct {
	Dir string
	// Pattern optionally filters listed units by base name glob.
	Pattern string
	// DoneDir enables MoveDone: processed units are renamed into it.
	DoneDir string
}

func (c SFTPConfig) Validate() error {
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

// sftpFS is the slice of an SFTP session the adapter uses. The indirection
// keeps the adapter testable without a server.
type sftpFS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	Remove(path string) error
	PosixRename(oldname, newname string) error
	Close() error
}

type realSFTP struct{ conn *sftpconn.Conn }

func (r realSFTP) ReadDir(p string) ([]os.FileInfo, error) { return r.conn.Client.ReadDir(p) }
func (r realSFTP) Open(p string) (io.ReadCloser, error)    { return r.conn.Client.Open(p) }
func (r realSFTP) Create(p string) (io.WriteCloser, error) { return r.conn.Client.Create(p) }
func (r realSFTP) MkdirAll(p string) error                 { return r.conn.Client.MkdirAll(p) }
func (r realSFTP) Remove(p string) error                   { return r.conn.Client.Remove(p) }
func (r realSFTP) PosixRename(o, n string) error           { return r.conn.Client.PosixRename(o, n) }
func (r realSFTP) Close() error                            { return r.conn.Close() }

// SFTP reads and writes units as files in one remote directory. Every
// operation dials a fresh session scoped to that operation, so a unit
// never outlives its connection.
type SFTP struct {
	cfg  SFTPConfig
	dial func() (sftpFS, error)
}

func NewSFTP(conn sftpconn.Config, cfg SFTPConfig) (*SFTP, error) {
	if err := conn.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	dial := func() (sftpFS, error) {
		c, err := sftpconn.Dial(conn)
		if err != nil {
			return nil, domain.TransientErr(err)
		}
		return realSFTP{conn: c}, nil
	}
	return &SFTP{cfg: cfg, dial: dial}, nil
}

func (s *SFTP) Name() string { return "sftp:" + s.cfg.Dir }

func (s *SFTP) List(ctx context.Context) ([]domain.TransferUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer fs.Close()

	infos, err := fs.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, classifyFileErr("list "+s.cfg.Dir, err)
	}

	var units []domain.TransferUnit
	for _, info := range infos {
		if info.IsDir() || !matchPattern(s.cfg.Pattern, info.Name()) {
			continue
		}
		units = append(units, domain.TransferUnit{
			Name:    info.Name(),
			Path:    path.Join(s.cfg.Dir, info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

func (s *SFTP) OpenRead(ctx context.Context, unit domain.TransferUnit) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs, err := s.dial()
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(unit.Path)
	if err != nil {
		_ = fs.Close()
		return nil, classifyFileErr("open "+unit.Path, err)
	}
	return &sessionReader{f: f, fs: fs}, nil
}

// OpenWrite stages the unit beside its final path and renames it into
// place on Close. Abort removes the staged file.
func (s *SFTP) OpenWrite(ctx context.Context, unit domain.TransferUnit) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs, err := s.dial()
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(s.cfg.Dir); err != nil {
		_ = fs.Close()
		return nil, classifyFileErr("mkdir "+s.cfg.Dir, err)
	}
	target := path.Join(s.cfg.Dir, unit.Name)
	staged := target + ".partial"
	f, err := fs.Create(staged)
	if err != nil {
		_ = fs.Close()
		return nil, classifyFileErr("create "+staged, err)
	}
	return &stagedRemoteWriter{f: f, fs: fs, staged: staged, target: target}, nil
}

func (s *SFTP) Delete(ctx context.Context, unit domain.TransferUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs, err := s.dial()
	if err != nil {
		return err
	}
	defer fs.Close()
	return classifyFileErr("remove "+unit.Path, fs.Remove(unit.Path))
}

// MoveDone renames the unit into DoneDir on the same server.
func (s *SFTP) MoveDone(ctx context.Context, unit domain.TransferUnit) error {
	if s.cfg.DoneDir == "" {
		return domain.Configf("done dir is not configured for %s", s.Name())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fs, err := s.dial()
	if err != nil {
		return err
	}
	defer fs.Close()
	if err := fs.MkdirAll(s.cfg.DoneDir); err != nil {
		return classifyFileErr("mkdir "+s.cfg.DoneDir, err)
	}
	done := path.Join(s.cfg.DoneDir, unit.Name)
	return classifyFileErr("rename "+unit.Path, fs.PosixRename(unit.Path, done))
}

// sessionReader closes the session together with the file so a streaming
// read keeps its connection for exactly as long as it needs it.
type sessionReader struct {
	f  io.ReadCloser
	fs sftpFS
}

func (r *sessionReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		err = classifyFileErr("read", err)
	}
	return n, err
}

func (r *sessionReader) Close() error {
	err := r.f.Close()
	if cerr := r.fs.Close(); err == nil {
		err = cerr
	}
	return err
}

type stagedRemoteWriter struct {
	f      io.WriteCloser
	fs     sftpFS
	staged string
	target string
}

func (w *stagedRemoteWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = classifyFileErr("write "+w.staged, err)
	}
	return n, err
}

func (w *stagedRemoteWriter) Close() error {
	defer w.fs.Close()
	if err := w.f.Close(); err != nil {
		return classifyFileErr("close "+w.staged, err)
	}
	return classifyFileErr("rename "+w.staged, w.fs.PosixRename(w.staged, w.target))
}

func (w *stagedRemoteWriter) Abort() error {
	defer w.fs.Close()
	_ = w.f.Close()
	return classifyFileErr("remove "+w.staged, w.fs.Remove(w.staged))
}

func classifyFileErr(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	if os.IsNotExist(err) || os.IsPermission(err) {
		return domain.PermanentErr(wrapped)
	}
	return domain.TransientErr(wrapped)
}
