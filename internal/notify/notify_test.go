package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lychevd/ETL/internal/domain"
)

func sampleResult() domain.ExecutionResult {
	return domain.ExecutionResult{
		Pipeline:  "orders",
		RunID:     "run-1",
		Status:    domain.StatusPartialFailure,
		StartedAt: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		Elapsed:   1500 * time.Millisecond,
		Units: []domain.UnitOutcome{
			{
				Unit:     domain.TransferUnit{Name: "a.csv", Path: "in/a.csv"},
				Status:   domain.UnitCompleted,
				Attempts: 1,
				Load:     &domain.LoadReport{RowsLoaded: 10},
			},
			{
				Unit:     domain.TransferUnit{Name: "b.csv", Path: "in/b.csv"},
				Status:   domain.UnitFailed,
				Attempts: 3,
				Err:      domain.Permanentf("open in/b.csv: not found"),
			},
		},
	}
}

func TestLogSinkWritesSummaryAndFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := sink.Notify(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "pipeline run partially failed") {
		t.Fatalf("missing run line: %s", out)
	}
	if !strings.Contains(out, "in/b.csv") || !strings.Contains(out, "permanent") {
		t.Fatalf("missing failed unit detail: %s", out)
	}
}

func TestBuildPayloadFlattensErrors(t *testing.T) {
	payload := buildPayload(sampleResult())

	if payload.Completed != 1 || payload.Failed != 1 || payload.Skipped != 0 {
		t.Fatalf("counts=%d/%d/%d", payload.Completed, payload.Failed, payload.Skipped)
	}
	if len(payload.Units) != 2 {
		t.Fatalf("units=%d, want 2", len(payload.Units))
	}
	if payload.Units[0].RowsLoaded != 10 {
		t.Fatalf("RowsLoaded=%d, want 10", payload.Units[0].RowsLoaded)
	}
	failed := payload.Units[1]
	if failed.ErrorKind != "permanent" || !strings.Contains(failed.Error, "not found") {
		t.Fatalf("failed unit=%+v", failed)
	}
	if payload.ElapsedMS != 1500 {
		t.Fatalf("ElapsedMS=%d, want 1500", payload.ElapsedMS)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := NewLog(discardLogger())
	result := domain.ExecutionResult{Pipeline: "p", RunID: "r", Status: domain.StatusFailure,
		Err: domain.Configf("no source")}
	if err := sink.Notify(context.Background(), result); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
}
