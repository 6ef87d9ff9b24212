package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResolveStatus(t *testing.T) {
	completed := UnitOutcome{Status: UnitCompleted}
	failed := UnitOutcome{Status: UnitFailed, Err: TransientErr(errors.New("boom"))}
	skipped := UnitOutcome{Status: UnitSkipped}

	tests := []struct {
		name  string
		units []UnitOutcome
		want  ExecutionStatus
	}{
		{name: "empty listing is success", units: nil, want: StatusSuccess},
		{name: "all completed", units: []UnitOutcome{completed, completed}, want: StatusSuccess},
		{name: "skips count as delivered", units: []UnitOutcome{skipped, skipped}, want: StatusSuccess},
		{name: "one failure among successes", units: []UnitOutcome{completed, failed}, want: StatusPartialFailure},
		{name: "failure plus skip is partial", units: []UnitOutcome{skipped, failed}, want: StatusPartialFailure},
		{name: "all failed", units: []UnitOutcome{failed, failed}, want: StatusFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveStatus(tc.units); got != tc.want {
				t.Fatalf("ResolveStatus()=%s, want %s", got, tc.want)
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	if got := StatusSuccess.ExitCode(); got != 0 {
		t.Fatalf("success exit=%d, want 0", got)
	}
	if got := StatusPartialFailure.ExitCode(); got != 1 {
		t.Fatalf("partial failure exit=%d, want 1", got)
	}
	if got := StatusFailure.ExitCode(); got != 2 {
		t.Fatalf("failure exit=%d, want 2", got)
	}
}

func TestResultSummary(t *testing.T) {
	result := ExecutionResult{
		Pipeline:  "orders",
		RunID:     "run-1",
		Status:    StatusPartialFailure,
		StartedAt: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		Elapsed:   1500 * time.Millisecond,
		Units: []UnitOutcome{
			{Unit: TransferUnit{Name: "a.csv", Path: "in/a.csv"}, Status: UnitCompleted, Attempts: 1},
			{Unit: TransferUnit{Name: "b.csv", Path: "in/b.csv"}, Status: UnitFailed, Attempts: 3, Err: Permanentf("object gone")},
			{Unit: TransferUnit{Name: "c.csv", Path: "in/c.csv"}, Status: UnitSkipped},
		},
	}

	summary := result.Summary()
	if !strings.Contains(summary, "pipeline orders run run-1: partial_failure") {
		t.Fatalf("summary missing header: %s", summary)
	}
	if !strings.Contains(summary, "1 completed, 1 failed, 1 skipped") {
		t.Fatalf("summary missing counts: %s", summary)
	}
	if !strings.Contains(summary, "in/b.csv: failed after 3 attempt(s) [permanent]") {
		t.Fatalf("summary missing failure detail: %s", summary)
	}
}

func TestResultSummaryRunError(t *testing.T) {
	result := ExecutionResult{
		Pipeline: "orders",
		RunID:    "run-2",
		Status:   StatusFailure,
		Err:      Configf("source.bucket is required"),
	}
	if !strings.Contains(result.Summary(), "run error: config: source.bucket is required") {
		t.Fatalf("summary missing run error: %s", result.Summary())
	}
}
