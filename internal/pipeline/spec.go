// Package pipeline runs one configured data movement end to end:
// discover units at the source, push each through the optional
// decrypt/transform stages into a destination or a database table,
// retry transient failures, and report a single ExecutionResult.
package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lychevd/ETL/internal/bulkload"
	"github.com/lychevd/ETL/internal/checkpoint"
	"github.com/lychevd/ETL/internal/database"
	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/notify"
	"github.com/lychevd/ETL/internal/transfer"
)

const (
	// DefaultMaxAttempts bounds how often one unit is tried.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the wait before the first retry.
	DefaultBackoffBase = 2 * time.Second
	// DefaultBackoffCeiling caps the exponential growth of retry waits.
	DefaultBackoffCeiling = 60 * time.Second
)

// RetryPolicy bounds per-unit retries. Waits double from Base up to
// Ceiling without jitter, so retry timing stays reproducible.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Ceiling     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Base == 0 {
		p.Base = DefaultBackoffBase
	}
	if p.Ceiling == 0 {
		p.Ceiling = DefaultBackoffCeiling
	}
	return p
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Base <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", p.Base)
	}
	if p.Ceiling < p.Base {
		return fmt.Errorf("backoff ceiling %s is below base %s", p.Ceiling, p.Base)
	}
	return nil
}

// TransformFunc rewrites a unit's content between the source read and
// the destination write.
type TransformFunc func(io.Reader) (io.Reader, error)

// Decrypter unwraps secure envelopes on the way in.
type Decrypter interface {
	Decrypt(src io.Reader) (io.Reader, error)
}

// Encrypter wraps outgoing content in a secure envelope. Closing the
// returned writer finishes the envelope without closing dst.
type Encrypter interface {
	Encrypt(dst io.Writer) (io.WriteCloser, error)
}

// CleanupMode selects what happens to a unit's source copy after the
// unit completes.
type CleanupMode string

const (
	// CleanupNone leaves delivered sources in place.
	CleanupNone CleanupMode = ""
	// CleanupDelete removes delivered sources.
	CleanupDelete CleanupMode = "delete"
	// CleanupMoveDone moves delivered sources aside; the source backend
	// must support it.
	CleanupMoveDone CleanupMode = "move_done"
)

// LoadSpec targets a relational table instead of a storage destination.
type LoadSpec struct {
	Backend database.Backend
	Table   string
	// CSV controls how unit content is decoded into rows.
	CSV bulkload.CSVOptions
	// Options tunes chunking and the rejection threshold.
	Options bulkload.Options
	// Truncate empties the table once per run before the first unit.
	Truncate bool
}

func (l LoadSpec) Validate() error {
	if l.Backend == nil {
		return domain.Configf("load backend is required")
	}
	if err := database.ValidateTableName(l.Table); err != nil {
		return err
	}
	if err := l.Options.Validate(); err != nil {
		return domain.ConfigErr(err)
	}
	return nil
}

// Spec is the immutable runtime configuration of one pipeline. Exactly
// one of Destination and Load receives the units.
type Spec struct {
	Name   string
	Source transfer.Backend

	Destination transfer.Backend
	Load        *LoadSpec

	// Decrypt runs on every unit read; Encrypt on every destination
	// write. Loads never encrypt: envelopes wrap byte streams, not rows.
	Decrypt Decrypter
	Encrypt Encrypter

	// Transform runs between Decrypt and the write or load.
	Transform TransformFunc

	// Rename rewrites the destination name of each unit.
	Rename func(string) string

	Retry       RetryPolicy
	Concurrency int

	// Cleanup applies to each unit's source copy after the unit
	// completes; failures are logged and never change outcomes.
	Cleanup CleanupMode

	// Checkpoints records delivered fingerprints when set. SkipCompleted
	// additionally skips units whose fingerprint is already recorded.
	Checkpoints   checkpoint.Store
	SkipCompleted bool

	Sinks []notify.Sink
}

func (s Spec) withDefaults() Spec {
	s.Retry = s.Retry.withDefaults()
	if s.Concurrency == 0 {
		s.Concurrency = 1
	}
	return s
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return domain.Configf("pipeline name is required")
	}
	if s.Source == nil {
		return domain.Configf("pipeline %s: source backend is required", s.Name)
	}
	if (s.Destination == nil) == (s.Load == nil) {
		return domain.Configf("pipeline %s: exactly one of destination and load must be set", s.Name)
	}
	if s.Load != nil {
		if err := s.Load.Validate(); err != nil {
			return fmt.Errorf("pipeline %s: %w", s.Name, err)
		}
		if s.Encrypt != nil {
			return domain.Configf("pipeline %s: encrypt applies to destination writes, not loads", s.Name)
		}
	}
	if err := s.Retry.Validate(); err != nil {
		return domain.ConfigErr(fmt.Errorf("pipeline %s: %w", s.Name, err))
	}
	if s.Concurrency < 1 {
		return domain.Configf("pipeline %s: concurrency must be >= 1, got %d", s.Name, s.Concurrency)
	}
	switch s.Cleanup {
	case CleanupNone, CleanupDelete:
	case CleanupMoveDone:
		if _, ok := s.Source.(transfer.Renamer); !ok {
			return domain.Configf("pipeline %s: source %s cannot move delivered units aside", s.Name, s.Source.Name())
		}
	default:
		return domain.Configf("pipeline %s: unknown cleanup mode %q", s.Name, s.Cleanup)
	}
	if s.SkipCompleted && s.Checkpoints == nil {
		return domain.Configf("pipeline %s: skip_completed requires a checkpoint store", s.Name)
	}
	return nil
}
