package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus is the terminal state of a whole pipeline run.
type ExecutionStatus string

const (
	StatusSuccess        ExecutionStatus = "success"
	StatusPartialFailure ExecutionStatus = "partial_failure"
	StatusFailure        ExecutionStatus = "failure"
)

// ExitCode maps the status to a process exit code: 0 for success, 1 for
// partial failure, 2 for failure.
func (s ExecutionStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartialFailure:
		return 1
	default:
		return 2
	}
}

// ExecutionResult is the single report produced by one pipeline run. It
// enumerates every discovered unit and its outcome.
type ExecutionResult struct {
	Pipeline  string
	RunID     string
	Status    ExecutionStatus
	Units     []UnitOutcome
	StartedAt time.Time
	Elapsed   time.Duration
	// Err is set for run-level failures such as invalid configuration
	// or discovery errors, where no per-unit outcome exists.
	Err error
}

func (r ExecutionResult) ExitCode() int { return r.Status.ExitCode() }

// Counts returns how many units completed, failed, and were skipped.
func (r ExecutionResult) Counts() (completed, failed, skipped int) {
	for _, u := range r.Units {
		switch u.Status {
		case UnitCompleted:
			completed++
		case UnitFailed:
			failed++
		case UnitSkipped:
			skipped++
		}
	}
	return completed, failed, skipped
}

// ResolveStatus derives the run status from unit outcomes: success when
// nothing failed, failure when nothing was delivered, partial failure
// otherwise. Skipped units count as delivered.
func ResolveStatus(units []UnitOutcome) ExecutionStatus {
	var completed, failed, skipped int
	for _, u := range units {
		switch u.Status {
		case UnitCompleted:
			completed++
		case UnitFailed:
			failed++
		case UnitSkipped:
			skipped++
		}
	}
	if failed == 0 {
		return StatusSuccess
	}
	if completed == 0 && skipped == 0 {
		return StatusFailure
	}
	return StatusPartialFailure
}

// Summary renders a short human-readable report suitable for logs and
// notification bodies.
func (r ExecutionResult) Summary() string {
	var b strings.Builder
	completed, failed, skipped := r.Counts()
	fmt.Fprintf(&b, "pipeline %s run %s: %s (%d completed, %d failed, %d skipped) in %s",
		r.Pipeline, r.RunID, r.Status, completed, failed, skipped, r.Elapsed.Round(time.Millisecond))
	if r.Err != nil {
		fmt.Fprintf(&b, "\nrun error: %v", r.Err)
	}
	for _, u := range r.Units {
		switch u.Status {
		case UnitFailed:
			kind, _ := u.FailureKind()
			fmt.Fprintf(&b, "\n%s: failed after %d attempt(s) [%s]: %v", u.Unit.Path, u.Attempts, kind, u.Err)
		case UnitCompleted:
			if u.Load != nil && u.Load.RowsRejected > 0 {
				fmt.Fprintf(&b, "\n%s: loaded %d row(s), rejected %d", u.Unit.Path, u.Load.RowsLoaded, u.Load.RowsRejected)
			}
		}
	}
	return b.String()
}
