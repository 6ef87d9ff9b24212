package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/lychevd/ETL/internal/domain"
)

// ObjectStoreConfig selects one bucket on an S3-compatible endpoint.
// Listing is restricted to Prefix; written units are placed under Prefix
// by base name.
type ObjectStoreConfig struct {
	Bucket string
	Prefix string
	// Pattern optionally filters listed units by base name glob.
	Pattern string
	// DonePrefix enables MoveDone: processed units are copied under it
	// and removed from their original key.
	DonePrefix string
}

func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if c.Pattern != "" {
		if err := validatePattern(c.Pattern); err != nil {
			return fmt.Errorf("pattern %q: %w", c.Pattern, err)
		}
	}
	return nil
}

// ObjectStore reads and writes units as objects in one bucket.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
}

func NewObjectStore(client *minio.Client, cfg ObjectStoreConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	return &ObjectStore{client: client, cfg: cfg}, nil
}

func (s *ObjectStore) Name() string { return "objectstore/" + s.cfg.Bucket }

func (s *ObjectStore) List(ctx context.Context) ([]domain.TransferUnit, error) {
	opts := minio.ListObjectsOptions{Prefix: s.cfg.Prefix, Recursive: true}
	var units []domain.TransferUnit
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if obj.Err != nil {
			return nil, classifyObjectErr("list "+s.cfg.Bucket, obj.Err)
		}
		// Prefix placeholders show up as zero-length keys ending in "/".
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		unit := objectUnit(obj)
		if !matchPattern(s.cfg.Pattern, unit.Name) {
			continue
		}
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Path < units[j].Path })
	return units, nil
}

func objectUnit(obj minio.ObjectInfo) domain.TransferUnit {
	return domain.TransferUnit{
		Name:     path.Base(obj.Key),
		Path:     obj.Key,
		Size:     obj.Size,
		ModTime:  obj.LastModified,
		Checksum: strings.Trim(obj.ETag, `"`),
	}
}

func (s *ObjectStore) OpenRead(ctx context.Context, unit domain.TransferUnit) (io.ReadCloser, error) {
	// Stat first so a missing object fails here instead of on the first
	// read of a lazy handle.
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, unit.Path, minio.StatObjectOptions{}); err != nil {
		return nil, classifyObjectErr("stat "+unit.Path, err)
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, unit.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyObjectErr("get "+unit.Path, err)
	}
	return &objectReader{obj: obj, op: "read " + unit.Path}, nil
}

// OpenWrite streams the unit into the bucket under the configured prefix.
// Close commits the object; Abort fails the upload so no object is
// created.
func (s *ObjectStore) OpenWrite(ctx context.Context, unit domain.TransferUnit) (io.WriteCloser, error) {
	key := s.destKey(unit)
	pr, pw := io.Pipe()
	w := &objectWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			pr.CloseWithError(err)
			w.done <- classifyObjectErr("put "+key, err)
			return
		}
		w.done <- nil
	}()
	return w, nil
}

func (s *ObjectStore) Delete(ctx context.Context, unit domain.TransferUnit) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, unit.Path, minio.RemoveObjectOptions{})
	return classifyObjectErr("remove "+unit.Path, err)
}

// MoveDone copies the unit under DonePrefix and removes the original key.
func (s *ObjectStore) MoveDone(ctx context.Context, unit domain.TransferUnit) error {
	if s.cfg.DonePrefix == "" {
		return domain.Configf("done prefix is not configured for bucket %s", s.cfg.Bucket)
	}
	dst := minio.CopyDestOptions{Bucket: s.cfg.Bucket, Object: path.Join(s.cfg.DonePrefix, unit.Name)}
	src := minio.CopySrcOptions{Bucket: s.cfg.Bucket, Object: unit.Path}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return classifyObjectErr("copy "+unit.Path, err)
	}
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, unit.Path, minio.RemoveObjectOptions{})
	return classifyObjectErr("remove "+unit.Path, err)
}

func (s *ObjectStore) destKey(unit domain.TransferUnit) string {
	if s.cfg.Prefix == "" {
		return unit.Name
	}
	return path.Join(s.cfg.Prefix, unit.Name)
}

type objectReader struct {
	obj *minio.Object
	op  string
}

func (r *objectReader) Read(p []byte) (int, error) {
	n, err := r.obj.Read(p)
	if err != nil && err != io.EOF {
		err = classifyObjectErr(r.op, err)
	}
	return n, err
}

func (r *objectReader) Close() error { return r.obj.Close() }

var errUploadAborted = errors.New("upload aborted")

type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func (w *objectWriter) Abort() error {
	w.pw.CloseWithError(errUploadAborted)
	<-w.done
	return nil
}

func classifyObjectErr(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return domain.PermanentErr(wrapped)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return domain.PermanentErr(wrapped)
	case "SlowDown":
		return domain.TransientErr(wrapped)
	}
	switch {
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		return domain.TransientErr(wrapped)
	case resp.StatusCode >= 400:
		return domain.PermanentErr(wrapped)
	}
	// No S3 response at all: connection-level failure.
	return domain.TransientErr(wrapped)
}
