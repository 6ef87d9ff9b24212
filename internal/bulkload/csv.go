package bulkload

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/lychevd/ETL/internal/domain"
)

// CSVOptions controls how a tabular unit stream is decoded.
type CSVOptions struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Header marks the first row as column names. When set, the names
	// are checked against the target table before any row is loaded.
	Header bool
	// SkipRows discards leading rows before the header and data.
	SkipRows int
	// TrimLeadingSpace drops spaces following the delimiter.
	TrimLeadingSpace bool
}

// CSVReader decodes a unit stream into raw string rows. Field values
// stay strings here; the loader coerces them against the target schema.
type CSVReader struct {
	r      *csv.Reader
	opts   CSVOptions
	header []string
	primed bool
}

func NewCSVReader(r io.Reader, opts CSVOptions) *CSVReader {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.TrimLeadingSpace = opts.TrimLeadingSpace
	// Row width is validated against the target table, not the file.
	cr.FieldsPerRecord = -1
	return &CSVReader{r: cr, opts: opts}
}

func (c *CSVReader) prime() error {
	if c.primed {
		return nil
	}
	c.primed = true
	for i := 0; i < c.opts.SkipRows; i++ {
		if _, err := c.r.Read(); err != nil {
			return c.wrap(err)
		}
	}
	if c.opts.Header {
		header, err := c.r.Read()
		if err != nil {
			return c.wrap(err)
		}
		c.header = header
	}
	return nil
}

// Schema returns the header columns, or an empty schema when the stream
// carries no header.
func (c *CSVReader) Schema(ctx context.Context) (domain.TableSchema, error) {
	if err := c.prime(); err != nil {
		return domain.TableSchema{}, err
	}
	cols := make([]domain.Column, len(c.header))
	for i, name := range c.header {
		cols[i] = domain.Column{Name: name}
	}
	return domain.TableSchema{Columns: cols}, nil
}

func (c *CSVReader) Next(ctx context.Context) (domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.prime(); err != nil {
		return nil, err
	}
	rec, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, c.wrap(err)
	}
	row := make(domain.Row, len(rec))
	for i, field := range rec {
		row[i] = field
	}
	return row, nil
}

// wrap treats malformed input as a structural problem with the unit:
// once the framing is broken the rest of the stream cannot be trusted.
func (c *CSVReader) wrap(err error) error {
	if err == io.EOF {
		return domain.Schemaf("unexpected end of input before data rows")
	}
	return domain.SchemaErr(fmt.Errorf("malformed input: %w", err))
}
