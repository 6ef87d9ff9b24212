package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lychevd/ETL/internal/domain"
)

// classifyDBErr maps database failures onto domain error kinds. Errors
// that already carry a classification pass through with added context.
func classifyDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)

	var f *domain.Fault
	if errors.As(err, &f) {
		return wrapped
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(wrapped, pgErr.Code)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.TransientErr(wrapped)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.TransientErr(wrapped)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.TransientErr(wrapped)
	}
	// Unknown driver errors stay retryable.
	return domain.TransientErr(wrapped)
}

func classifySQLState(err error, code string) error {
	switch code {
	case "42P01", "42703", "42804", "42P18":
		// undefined table or column, datatype mismatch
		return domain.SchemaErr(err)
	case "40001", "40P01", "57P03":
		// serialization failure, deadlock, cannot connect now
		return domain.TransientErr(err)
	}
	if len(code) < 2 {
		return domain.PermanentErr(err)
	}
	switch code[:2] {
	case "22":
		// data exception: values do not fit the column types
		return domain.SchemaErr(err)
	case "08", "53":
		// connection failures, insufficient resources
		return domain.TransientErr(err)
	default:
		return domain.PermanentErr(err)
	}
}
