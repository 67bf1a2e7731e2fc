package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/auditpipe/internal/audit"
	"github.com/onnwee/auditpipe/internal/jobs"
	"github.com/onnwee/auditpipe/internal/tracing"
)

// ReconcilerConfig contains configuration for the reconciliation loop.
type ReconcilerConfig struct {
	// Interval is how often a reconciliation cycle runs. Default: 1 minute.
	Interval time.Duration

	// BatchSize is how many cases are updated concurrently at a time.
	// Default: 50.
	BatchSize int

	// RetryDelay is the bounded backoff after a cycle-level failure. It is
	// kept shorter than Interval so a failing cycle retries sooner without
	// busy-looping. Default: 10 seconds.
	RetryDelay time.Duration

	// Thresholds define the escalation ladder.
	Thresholds Thresholds
}

// DefaultReconcilerConfig returns the default reconciler configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:   1 * time.Minute,
		BatchSize:  50,
		RetryDelay: 10 * time.Second,
		Thresholds: Thresholds{
			WarnWithin:     24 * time.Hour,
			CriticalWithin: 4 * time.Hour,
		},
	}
}

// Reconciler periodically re-evaluates the active-case working set and
// advances the escalation ladder for cases whose deadline pressure crossed a
// threshold.
type Reconciler struct {
	store   Store
	submit  audit.Submitter // optional; escalations also produce audit records
	logger  *slog.Logger
	metrics *jobs.Metrics // optional
	config  ReconcilerConfig

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReconciler creates a new reconciler. submit and metrics may be nil.
func NewReconciler(store Store, submit audit.Submitter, logger *slog.Logger, metrics *jobs.Metrics, config ReconcilerConfig) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultReconcilerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.Thresholds == (Thresholds{}) {
		config.Thresholds = def.Thresholds
	}

	return &Reconciler{
		store:    store,
		submit:   submit,
		logger:   logger,
		metrics:  metrics,
		config:   config,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop gracefully stops the reconciler, letting an in-flight cycle finish.
func (r *Reconciler) Stop() {
	close(r.stopChan)
	<-r.doneChan
}

// run executes cycles on a fixed interval. A cycle-level failure shortens the
// sleep to RetryDelay; nothing escapes the loop.
func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneChan)

	r.logger.Info("sla reconciler started",
		slog.Duration("interval", r.config.Interval),
		slog.Int("batch_size", r.config.BatchSize),
		slog.Duration("warn_within", r.config.Thresholds.WarnWithin),
		slog.Duration("critical_within", r.config.Thresholds.CriticalWithin))

	for {
		delay := r.config.Interval
		if err := r.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("sla reconciler stopping due to context cancellation")
				return
			}
			r.logger.Error("reconciliation cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_delay", r.config.RetryDelay))
			if r.metrics != nil {
				r.metrics.IncJobErrors(jobs.JobTypeSlaReconcile, "cycle_error")
			}
			delay = r.config.RetryDelay
		}

		select {
		case <-ctx.Done():
			r.logger.Info("sla reconciler stopping due to context cancellation")
			return
		case <-r.stopChan:
			r.logger.Info("sla reconciler stopping")
			return
		case <-time.After(delay):
		}
	}
}

// cycle runs one full reconciliation pass. Panics are converted to errors so
// a bad case cannot kill the loop.
func (r *Reconciler) cycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconciliation panic: %v", rec)
		}
	}()

	ctx, endSpan := tracing.StartSpan(ctx, "sla.reconcile")
	defer func() { endSpan(err) }()

	start := time.Now()

	cases, err := r.store.ActiveCases(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch active cases: %w", err)
	}

	var updated, escalated, failed int64

	// Fixed-size batches; within a batch every case is updated concurrently.
	// Cases are independent, so the only shared state is the counters.
	for i := 0; i < len(cases); i += r.config.BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := i + r.config.BatchSize
		if end > len(cases) {
			end = len(cases)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, c := range cases[i:end] {
			g.Go(func() error {
				didEscalate, caseErr := r.updateCase(gctx, c)
				if caseErr != nil {
					// Isolated: counted, never aborts the batch.
					atomic.AddInt64(&failed, 1)
					r.logger.Warn("case update failed",
						slog.String("subject_id", c.SubjectID),
						slog.String("error", caseErr.Error()))
					return nil
				}
				atomic.AddInt64(&updated, 1)
				if didEscalate {
					atomic.AddInt64(&escalated, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	duration := time.Since(start)
	r.logger.Info("reconciliation cycle complete",
		slog.Int("active_cases", len(cases)),
		slog.Int64("updated", atomic.LoadInt64(&updated)),
		slog.Int64("escalated", atomic.LoadInt64(&escalated)),
		slog.Int64("failed", atomic.LoadInt64(&failed)),
		slog.Duration("duration", duration))

	if r.metrics != nil {
		r.metrics.IncJobsTotal(jobs.JobTypeSlaReconcile, jobs.StatusSuccess)
		r.metrics.ObserveJobDuration(jobs.JobTypeSlaReconcile, duration.Seconds())
	}
	return nil
}

// updateCase recomputes one case's deadline pressure and persists an upward
// level transition. Reports whether the case escalated.
func (r *Reconciler) updateCase(ctx context.Context, c *Case) (bool, error) {
	now := time.Now().UTC()
	if !c.Advance(now, r.config.Thresholds) {
		return false, nil
	}

	if err := r.store.Update(ctx, c); err != nil {
		return false, err
	}

	r.logger.Info("case escalated",
		slog.String("subject_id", c.SubjectID),
		slog.String("level", c.Level.String()),
		slog.Duration("remaining", c.Remaining(now)))
	if r.metrics != nil {
		r.metrics.IncEscalations(c.Level.String())
	}

	// Escalations feed back into the audit trail. Best-effort: a full queue
	// or closed pipeline must not fail the case update.
	if r.submit != nil {
		rec := audit.NewRecord(audit.Entry{
			CorrelationID: c.CorrelationID,
			SubjectID:     c.SubjectID,
			Action:        audit.ActionEscalate,
			Stage:         audit.StageMaintenance,
			Success:       true,
			Detail:        fmt.Sprintf(`{"level":%q,"deadline":%q}`, c.Level.String(), c.Deadline.Format(time.RFC3339)),
		})
		if err := r.submit.Submit(ctx, rec); err != nil {
			r.logger.Warn("escalation audit record not accepted",
				slog.String("subject_id", c.SubjectID),
				slog.String("error", err.Error()))
		}
	}
	return true, nil
}
