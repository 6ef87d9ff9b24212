package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lychevd/ETL/internal/domain"
)

// RunLogDB is the slice of database/sql the run history needs.
type RunLogDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const createRunLogTable = `
CREATE TABLE IF NOT EXISTS etl_run_log (
	run_id     TEXT        PRIMARY KEY,
	pipeline   TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	elapsed_ms BIGINT      NOT NULL,
	completed  INTEGER     NOT NULL,
	failed     INTEGER     NOT NULL,
	skipped    INTEGER     NOT NULL,
	run_error  TEXT,
	units      JSONB       NOT NULL
)`

const insertRunLogQuery = `
INSERT INTO etl_run_log (
	run_id,
	pipeline,
	status,
	started_at,
	elapsed_ms,
	completed,
	failed,
	skipped,
	run_error,
	units
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO NOTHING`

// RunLog appends one row per run to a Postgres table, putting run
// history next to the data the pipelines load. The handle is owned by
// the caller.
type RunLog struct {
	db RunLogDB
}

func NewRunLog(db RunLogDB) *RunLog {
	return &RunLog{db: db}
}

// EnsureSchema creates the history table when it does not exist yet.
func (r *RunLog) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRunLogTable); err != nil {
		return fmt.Errorf("create run log table: %w", err)
	}
	return nil
}

func (r *RunLog) Name() string { return "runlog" }

func (r *RunLog) Notify(ctx context.Context, result domain.ExecutionResult) error {
	payload := buildPayload(result)
	unitsJSON, err := json.Marshal(payload.Units)
	if err != nil {
		return fmt.Errorf("encode unit outcomes: %w", err)
	}

	var runErr sql.NullString
	if payload.Error != "" {
		runErr = sql.NullString{String: payload.Error, Valid: true}
	}

	_, err = r.db.ExecContext(
		ctx,
		insertRunLogQuery,
		payload.RunID,
		payload.Pipeline,
		payload.Status,
		payload.StartedAt,
		payload.ElapsedMS,
		payload.Completed,
		payload.Failed,
		payload.Skipped,
		runErr,
		unitsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}
