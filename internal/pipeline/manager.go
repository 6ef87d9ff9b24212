package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lychevd/ETL/internal/bulkload"
	"github.com/lychevd/ETL/internal/domain"
	"github.com/lychevd/ETL/internal/transfer"
)

// notifyTimeout bounds result delivery to the sinks after the run
// itself is over.
const notifyTimeout = 30 * time.Second

// Manager executes one pipeline spec. It holds no state across runs:
// Execute may be called repeatedly and delivers each unit at least
// once per call.
type Manager struct {
	spec   Spec
	logger *slog.Logger
	loader *bulkload.Loader
	mover  transfer.Renamer
}

// New validates spec, fills in defaults, and returns a ready manager.
func New(spec Spec, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	spec = spec.withDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{spec: spec, logger: logger}
	if spec.Load != nil {
		loader, err := bulkload.New(spec.Load.Backend, spec.Load.Options)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", spec.Name, err)
		}
		m.loader = loader
	}
	if spec.Cleanup == CleanupMoveDone {
		m.mover = spec.Source.(transfer.Renamer)
	}
	return m, nil
}

// Execute runs the pipeline once: discover, transfer every unit with
// retries, clean up delivered sources, notify the sinks. The result is
// complete on its own; callers never need logs to learn which units
// failed. Cancellation takes effect between units.
func (m *Manager) Execute(ctx context.Context) domain.ExecutionResult {
	started := time.Now()
	result := domain.ExecutionResult{
		Pipeline:  m.spec.Name,
		RunID:     uuid.NewString(),
		StartedAt: started,
	}
	logger := m.logger.With("pipeline", m.spec.Name, "run_id", result.RunID)
	logger.Info("pipeline run started", "source", m.spec.Source.Name())

	units, err := m.discover(ctx, logger)
	if err != nil {
		result.Status = domain.StatusFailure
		result.Err = err
		result.Elapsed = time.Since(started)
		logger.Error("discovery failed", "error", err)
		m.notify(ctx, logger, result)
		return result
	}
	if len(units) == 0 {
		result.Status = domain.StatusSuccess
		result.Elapsed = time.Since(started)
		logger.Info("nothing to transfer")
		m.notify(ctx, logger, result)
		return result
	}
	logger.Info("units discovered", "count", len(units))

	if m.spec.Load != nil && m.spec.Load.Truncate {
		if err := m.truncate(ctx); err != nil {
			result.Status = domain.StatusFailure
			result.Err = err
			result.Elapsed = time.Since(started)
			logger.Error("truncate failed", "table", m.spec.Load.Table, "error", err)
			m.notify(ctx, logger, result)
			return result
		}
	}

	result.Units = m.transferAll(ctx, logger, units)
	m.finalize(ctx, logger, result.Units)

	result.Status = domain.ResolveStatus(result.Units)
	if len(result.Units) < len(units) {
		// Canceled between units: the ones never started are not part
		// of the result, and the run cannot count as a full success.
		result.Err = fmt.Errorf("run canceled after %d of %d unit(s): %w",
			len(result.Units), len(units), context.Cause(ctx))
		if result.Status == domain.StatusSuccess {
			result.Status = domain.StatusPartialFailure
		}
		if len(result.Units) == 0 {
			result.Status = domain.StatusFailure
		}
	}
	result.Elapsed = time.Since(started)

	completed, failed, skipped := result.Counts()
	logger.Info("pipeline run finished",
		"status", string(result.Status),
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"elapsed", result.Elapsed.String(),
	)
	m.notify(ctx, logger, result)
	return result
}

// discover lists the source with the same retry budget a unit gets.
func (m *Manager) discover(ctx context.Context, logger *slog.Logger) ([]domain.TransferUnit, error) {
	var units []domain.TransferUnit
	operation := func() error {
		list, err := m.spec.Source.List(ctx)
		if err != nil {
			if !domain.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		units = list
		return nil
	}
	onRetry := func(err error, wait time.Duration) {
		logger.Warn("listing failed, retrying", "wait", wait.String(), "error", err)
	}
	if err := backoff.RetryNotify(operation, m.newBackOff(ctx), onRetry); err != nil {
		return nil, fmt.Errorf("discover units: %w", err)
	}
	return units, nil
}

// transferAll processes units in listing order through a pool of at
// most Concurrency workers. Outcomes land in indexed slots; units never
// started because of cancellation are dropped from the result.
func (m *Manager) transferAll(ctx context.Context, logger *slog.Logger, units []domain.TransferUnit) []domain.UnitOutcome {
	outcomes := make([]domain.UnitOutcome, len(units))
	attempted := make([]bool, len(units))

	var g errgroup.Group
	g.SetLimit(m.spec.Concurrency)
	for i, unit := range units {
		i, unit := i, unit
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Re-checked here: with a full pool the submit loop runs
			// ahead of the workers.
			if ctx.Err() != nil {
				return nil
			}
			attempted[i] = true
			outcomes[i] = m.processUnit(ctx, logger, unit)
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]domain.UnitOutcome, 0, len(units))
	for i := range outcomes {
		if attempted[i] {
			kept = append(kept, outcomes[i])
		}
	}
	return kept
}

// processUnit takes one unit to a terminal status. Failures are
// contained here so one unit can never abort the batch.
func (m *Manager) processUnit(ctx context.Context, logger *slog.Logger, unit domain.TransferUnit) domain.UnitOutcome {
	started := time.Now()
	outcome := domain.UnitOutcome{Unit: unit}
	ulog := logger.With("unit", unit.Path)

	if m.spec.SkipCompleted {
		done, err := m.spec.Checkpoints.IsCompleted(ctx, m.spec.Name, unit.Fingerprint())
		if err != nil {
			// Deliver again rather than trust a failing store.
			ulog.Warn("checkpoint lookup failed", "error", err)
		} else if done {
			outcome.Status = domain.UnitSkipped
			outcome.Elapsed = time.Since(started)
			ulog.Info("unit already delivered, skipping")
			return outcome
		}
	}

	load, attempts, err := m.transferWithRetry(ctx, ulog, unit)
	outcome.Attempts = attempts
	outcome.Load = load
	outcome.Elapsed = time.Since(started)
	if err != nil {
		outcome.Status = domain.UnitFailed
		outcome.Err = err
		ulog.Error("unit failed",
			"attempts", attempts,
			"kind", string(domain.KindOf(err)),
			"error", err,
		)
		return outcome
	}
	outcome.Status = domain.UnitCompleted

	if m.spec.Checkpoints != nil {
		// The unit is delivered even when ctx died during its transfer;
		// record it so a re-run does not deliver twice.
		if err := m.spec.Checkpoints.MarkCompleted(context.WithoutCancel(ctx), m.spec.Name, unit.Fingerprint()); err != nil {
			ulog.Warn("checkpoint write failed", "error", err)
		}
	}
	ulog.Info("unit completed", "attempts", attempts, "elapsed", outcome.Elapsed.String())
	return outcome
}

// transferWithRetry drives single attempts through the retry policy.
// Non-retryable faults stop immediately; transient ones wait and try
// again until the attempt budget is spent.
func (m *Manager) transferWithRetry(ctx context.Context, logger *slog.Logger, unit domain.TransferUnit) (*domain.LoadReport, int, error) {
	var (
		load     *domain.LoadReport
		attempts int
	)
	operation := func() error {
		attempts++
		report, err := m.transferOnce(ctx, unit)
		load = report
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		logger.Warn("unit attempt failed, retrying",
			"attempt", attempts,
			"wait", wait.String(),
			"error", err,
		)
	}
	err := backoff.RetryNotify(operation, m.newBackOff(ctx), onRetry)
	return load, attempts, err
}

func (m *Manager) newBackOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.spec.Retry.Base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = m.spec.Retry.Ceiling
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.spec.Retry.MaxAttempts-1)), ctx)
}

// transferOnce is one attempt: open, decrypt, transform, then write or
// load. Streams are closed on every path before returning.
func (m *Manager) transferOnce(ctx context.Context, unit domain.TransferUnit) (*domain.LoadReport, error) {
	src, err := m.spec.Source.OpenRead(ctx, unit)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	content := io.Reader(src)
	if m.spec.Decrypt != nil {
		content, err = m.spec.Decrypt.Decrypt(content)
		if err != nil {
			return nil, err
		}
	}
	if m.spec.Transform != nil {
		content, err = m.spec.Transform(content)
		if err != nil {
			return nil, domain.PermanentErr(fmt.Errorf("transform %s: %w", unit.Path, err))
		}
	}

	if m.spec.Load != nil {
		report, err := m.loader.Load(ctx, m.spec.Load.Table, bulkload.NewCSVReader(content, m.spec.Load.CSV))
		return &report, err
	}
	return nil, m.writeUnit(ctx, unit, content)
}

func (m *Manager) writeUnit(ctx context.Context, unit domain.TransferUnit, content io.Reader) error {
	target := unit
	if m.spec.Rename != nil {
		target.Name = m.spec.Rename(unit.Name)
	}

	w, err := m.spec.Destination.OpenWrite(ctx, target)
	if err != nil {
		return err
	}

	payload := io.Writer(w)
	var envelope io.WriteCloser
	if m.spec.Encrypt != nil {
		envelope, err = m.spec.Encrypt.Encrypt(w)
		if err != nil {
			_ = transfer.Discard(w)
			return err
		}
		payload = envelope
	}

	if _, err := io.Copy(payload, content); err != nil {
		if envelope != nil {
			_ = envelope.Close()
		}
		_ = transfer.Discard(w)
		return err
	}
	if envelope != nil {
		if err := envelope.Close(); err != nil {
			_ = transfer.Discard(w)
			return err
		}
	}
	// Close commits the unit at the destination.
	return w.Close()
}

func (m *Manager) truncate(ctx context.Context) error {
	// Table names pass ValidateTableName before a manager exists.
	if _, err := m.spec.Load.Backend.ExecStatement(ctx, "TRUNCATE TABLE "+m.spec.Load.Table); err != nil {
		return fmt.Errorf("truncate %s: %w", m.spec.Load.Table, err)
	}
	return nil
}

// finalize applies the cleanup mode to every completed unit's source.
// It still runs after cancellation, and its failures only log.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, outcomes []domain.UnitOutcome) {
	if m.spec.Cleanup == CleanupNone {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, u := range outcomes {
		if u.Status != domain.UnitCompleted {
			continue
		}
		var err error
		switch m.spec.Cleanup {
		case CleanupDelete:
			err = m.spec.Source.Delete(ctx, u.Unit)
		case CleanupMoveDone:
			err = m.mover.MoveDone(ctx, u.Unit)
		}
		if err != nil {
			logger.Warn("source cleanup failed",
				"unit", u.Unit.Path,
				"mode", string(m.spec.Cleanup),
				"error", err,
			)
		}
	}
}

// notify delivers the result to every sink on a fresh deadline. Sink
// failures log; the run's own status is already fixed.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, result domain.ExecutionResult) {
	if len(m.spec.Sinks) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, sink := range m.spec.Sinks {
		if err := sink.Notify(nctx, result); err != nil {
			logger.Warn("notification failed", "sink", sink.Name(), "error", err)
		}
	}
}
