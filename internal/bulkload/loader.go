// Package bulkload streams tabular units into a database backend in
// bounded chunks, aborting early when too many rows are rejected.
package bulkload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lychevd/ETL/internal/database"
	"github.com/lychevd/ETL/internal/domain"
)

// DefaultChunkSize is the rows submitted per backend call. Tens of
// thousands keeps COPY batches and multi-row INSERT transactions in the
// range the engines ingest fastest.
const DefaultChunkSize = 20000

// Options tunes one loader.
type Options struct {
	// ChunkSize is the number of input rows gathered before a chunk is
	// submitted; zero means DefaultChunkSize.
	ChunkSize int
	// MaxRejectRate is the fraction of a chunk's rows that may be
	// rejected before the load aborts. The default 0 aborts on the
	// first rejected row.
	MaxRejectRate float64
}

func (o Options) Validate() error {
	if o.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be >= 0, got %d", o.ChunkSize)
	}
	if o.MaxRejectRate < 0 || o.MaxRejectRate >= 1 {
		return fmt.Errorf("max reject rate must be in [0, 1), got %g", o.MaxRejectRate)
	}
	return nil
}

// Source yields the rows of one tabular unit. Schema reports the header
// columns when the unit carries them; an empty schema means the rows
// are positional and the target table defines their meaning.
type Source interface {
	database.RowReader
	Schema(ctx context.Context) (domain.TableSchema, error)
}

// Loader submits a Source to one table of a database backend in input
// order, one chunk at a time. Chunks are never reordered or issued
// concurrently: bulk ingestion paths serialize writes per table.
type Loader struct {
	backend database.Backend
	opts    Options
}

func New(backend database.Backend, opts Options) (*Loader, error) {
	if backend == nil {
		return nil, domain.Configf("load backend is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, domain.ConfigErr(err)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Loader{backend: backend, opts: opts}, nil
}

// Load streams src into table. The returned report counts every row the
// call committed or rejected, including the rows of a partial load that
// ended in an error. A non-nil error means the unit failed; committed
// chunks are not rolled back.
func (l *Loader) Load(ctx context.Context, table string, src Source) (domain.LoadReport, error) {
	var report domain.LoadReport

	target, err := l.backend.Introspect(ctx, table)
	if err != nil {
		return report, err
	}
	header, err := src.Schema(ctx)
	if err != nil {
		return report, err
	}
	if len(header.Columns) > 0 {
		if err := target.Compatible(header); err != nil {
			return report, domain.SchemaErr(fmt.Errorf("table %s: %w", table, err))
		}
	}

	chunk := make([]domain.Row, 0, l.opts.ChunkSize)
	var chunkRejects domain.LoadReport

	submit := func() error {
		seen := len(chunk) + int(chunkRejects.RowsRejected)
		if seen == 0 {
			return nil
		}
		if rate := float64(chunkRejects.RowsRejected) / float64(seen); rate > l.opts.MaxRejectRate {
			report.Merge(chunkRejects)
			return domain.Schemaf("table %s: %d of %d row(s) in chunk rejected (rate %.4f exceeds %.4f)",
				table, chunkRejects.RowsRejected, seen, rate, l.opts.MaxRejectRate)
		}
		if len(chunk) > 0 {
			loaded, err := l.backend.BulkLoad(ctx, table, target, &sliceRows{rows: chunk})
			report.Merge(loaded)
			if err != nil {
				report.Merge(chunkRejects)
				return err
			}
		}
		report.Merge(chunkRejects)
		chunk = chunk[:0]
		chunkRejects = domain.LoadReport{}
		return nil
	}

	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}
		row, err := coerceRow(target, raw)
		if err != nil {
			chunkRejects.Reject(err.Error())
		} else {
			chunk = append(chunk, row)
		}
		if len(chunk)+int(chunkRejects.RowsRejected) >= l.opts.ChunkSize {
			if err := submit(); err != nil {
				return report, err
			}
		}
	}
	return report, submit()
}

// sliceRows replays one collected chunk to the backend.
type sliceRows struct {
	rows []domain.Row
	next int
}

func (s *sliceRows) Next(ctx context.Context) (domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}
