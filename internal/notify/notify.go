// Package notify reports pipeline outcomes to operators: structured
// logs, email, webhooks, and a Postgres run history. Sinks are
// fire-and-forget at the manager boundary; a failing channel never
// changes the run's own result.
package notify

import (
	"context"
	"log/slog"

	"github.com/lychevd/ETL/internal/domain"
)

// Sink delivers one run's result to an external channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, result domain.ExecutionResult) error
}

// Log writes the result to the structured log. It is the default sink
// and the fallback when no other channel is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(ctx context.Context, result domain.ExecutionResult) error {
	completed, failed, skipped := result.Counts()
	attrs := []any{
		"pipeline", result.Pipeline,
		"run_id", result.RunID,
		"status", string(result.Status),
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"elapsed", result.Elapsed.String(),
	}
	if result.Err != nil {
		attrs = append(attrs, "error", result.Err)
	}

	switch result.Status {
	case domain.StatusSuccess:
		l.logger.Info("pipeline run succeeded", attrs...)
	case domain.StatusPartialFailure:
		l.logger.Warn("pipeline run partially failed", attrs...)
	default:
		l.logger.Error("pipeline run failed", attrs...)
	}

	for _, u := range result.Units {
		if u.Status != domain.UnitFailed {
			continue
		}
		kind, _ := u.FailureKind()
		l.logger.Error("unit failed",
			"pipeline", result.Pipeline,
			"run_id", result.RunID,
			"unit", u.Unit.Path,
			"attempts", u.Attempts,
			"kind", string(kind),
			"error", u.Err,
		)
	}
	return nil
}
