package notify

import (
	"time"

	"github.com/lychevd/ETL/internal/domain"
)

// runPayload is the JSON shape shared by the webhook body and the run
// history table. Errors are flattened to kind + message so consumers
// never see Go error types.
type runPayload struct {
	Pipeline  string        `json:"pipeline"`
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
	Units     []unitPayload `json:"units"`
}

type unitPayload struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	RowsLoaded   int64  `json:"rows_loaded,omitempty"`
	RowsRejected int64  `json:"rows_rejected,omitempty"`
}

func buildPayload(result domain.ExecutionResult) runPayload {
	completed, failed, skipped := result.Counts()
	payload := runPayload{
		Pipeline:  result.Pipeline,
		RunID:     result.RunID,
		Status:    string(result.Status),
		StartedAt: result.StartedAt.UTC(),
		ElapsedMS: result.Elapsed.Milliseconds(),
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Units:     make([]unitPayload, 0, len(result.Units)),
	}
	if result.Err != nil {
		payload.Error = result.Err.Error()
	}
	for _, u := range result.Units {
		unit := unitPayload{
			Name:     u.Unit.Name,
			Path:     u.Unit.Path,
			Status:   string(u.Status),
			Attempts: u.Attempts,
		}
		if u.Err != nil {
			kind, _ := u.FailureKind()
			unit.ErrorKind = string(kind)
			unit.Error = u.Err.Error()
		}
		if u.Load != nil {
			unit.RowsLoaded = u.Load.RowsLoaded
			unit.RowsRejected = u.Load.RowsRejected
		}
		payload.Units = append(payload.Units, unit)
	}
	return payload
}
