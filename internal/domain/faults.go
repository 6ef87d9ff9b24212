package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by what the caller can do about it.
type ErrorKind string

const (
	// KindTransient marks failures that may succeed on retry, such as
	// dropped connections or throttling.
	KindTransient ErrorKind = "transient"
	// KindPermanent marks failures that retrying cannot fix, such as a
	// missing object or rejected credentials.
	KindPermanent ErrorKind = "permanent"
	// KindSchemaMismatch marks rows or tables whose structure does not
	// match the load target.
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	// KindIntegrity marks envelope payloads that failed authentication.
	KindIntegrity ErrorKind = "integrity"
	// KindConfig marks invalid configuration detected before any unit I/O.
	KindConfig ErrorKind = "config"
)

// Fault wraps an error together with its ErrorKind so callers can decide
// whether to retry without inspecting driver-specific error types.
type Fault struct {
	Kind ErrorKind
	Err  error
}

func (f *Fault) Error() string { return fmt.Sprintf("%s: %v", f.Kind, f.Err) }

func (f *Fault) Unwrap() error { return f.Err }

func newFault(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// TransientErr marks err as retryable. All constructors return nil when
// err is nil.
func TransientErr(err error) error { return newFault(KindTransient, err) }

// PermanentErr marks err as not retryable.
func PermanentErr(err error) error { return newFault(KindPermanent, err) }

// SchemaErr marks err as a structural mismatch with the load target.
func SchemaErr(err error) error { return newFault(KindSchemaMismatch, err) }

// IntegrityErr marks err as an envelope authentication failure.
func IntegrityErr(err error) error { return newFault(KindIntegrity, err) }

// ConfigErr marks err as a configuration problem.
func ConfigErr(err error) error { return newFault(KindConfig, err) }

// Transientf formats a retryable error.
func Transientf(format string, args ...any) error {
	return &Fault{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Permanentf formats a non-retryable error.
func Permanentf(format string, args ...any) error {
	return &Fault{Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

// Schemaf formats a schema mismatch error.
func Schemaf(format string, args ...any) error {
	return &Fault{Kind: KindSchemaMismatch, Err: fmt.Errorf(format, args...)}
}

// Integrityf formats an integrity error.
func Integrityf(format string, args ...any) error {
	return &Fault{Kind: KindIntegrity, Err: fmt.Errorf(format, args...)}
}

// Configf formats a configuration error.
func Configf(format string, args ...any) error {
	return &Fault{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the ErrorKind recorded on err. Errors that carry no
// classification are treated as transient so unknown infrastructure
// failures stay eligible for retry.
func KindOf(err error) ErrorKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the pipeline may attempt err again.
func IsRetryable(err error) bool { return KindOf(err) == KindTransient }
