package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransferUnit is a single discoverable item a pipeline moves: one file,
// one object, or one report body.
type TransferUnit struct {
	// Name is the base name of the unit without any directory prefix.
	Name string
	// Path is the backend-specific locator: an object key, a remote
	// file path, or a URL.
	Path string
	Size    int64
	ModTime time.Time
	// Checksum is an optional backend-provided content hash (the ETag
	// for object stores). It is informational and never recomputed.
	Checksum string
}

func (u TransferUnit) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("unit name is required")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("unit path is required")
	}
	return nil
}

// Fingerprint identifies one version of a unit for checkpointing. Two
// listings of an unmodified source yield the same fingerprint; a rewrite
// with a new size or modification time yields a new one. Backends that
// report no modification time fall back to the content checksum.
func (u TransferUnit) Fingerprint() string {
	if u.ModTime.IsZero() && u.Checksum != "" {
		return fmt.Sprintf("%s@%d:%s", u.Path, u.Size, u.Checksum)
	}
	return fmt.Sprintf("%s@%d:%d", u.Path, u.Size, u.ModTime.UTC().Unix())
}

// UnitStatus is the terminal state of one unit within a run.
type UnitStatus string

const (
	UnitCompleted UnitStatus = "completed"
	UnitFailed    UnitStatus = "failed"
	// UnitSkipped marks units whose fingerprint a previous run already
	// recorded as delivered.
	UnitSkipped UnitStatus = "skipped"
)

// UnitOutcome records what happened to one unit during a run.
type UnitOutcome struct {
	Unit     TransferUnit
	Status   UnitStatus
	Attempts int
	Elapsed  time.Duration
	// Load carries bulk load counters when the destination is a
	// database table.
	Load *LoadReport
	Err  error
}

// FailureKind returns the classification of the outcome's error, if any.
func (o UnitOutcome) FailureKind() (ErrorKind, bool) {
	if o.Err == nil {
		return "", false
	}
	return KindOf(o.Err), true
}
