package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/auditpipe/internal/audit"
	"github.com/onnwee/auditpipe/internal/jobs"
	"github.com/onnwee/auditpipe/internal/tracing"
)

// EnforcerConfig contains configuration for the retention loop.
type EnforcerConfig struct {
	// Interval is how often a retention cycle runs. Default: 1 hour.
	Interval time.Duration

	// DeleteBatchSize bounds how many records one delete batch removes.
	// Default: 1000.
	DeleteBatchSize int

	// PacingDelay is the pause between delete batches so retention does not
	// saturate the storage layer. Default: 250ms.
	PacingDelay time.Duration

	// RetryDelay is the bounded backoff after a cycle-level failure.
	// Default: 5 minutes.
	RetryDelay time.Duration
}

// DefaultEnforcerConfig returns the default enforcer configuration.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		Interval:        1 * time.Hour,
		DeleteBatchSize: 1000,
		PacingDelay:     250 * time.Millisecond,
		RetryDelay:      5 * time.Minute,
	}
}

// Enforcer runs the archive-then-delete lifecycle over aged audit records on
// its own schedule, decoupled from the other engines.
type Enforcer struct {
	store   audit.Store
	sink    Sink // required only when the policy enables archiving
	policy  Policy
	logger  *slog.Logger
	metrics *jobs.Metrics // optional
	config  EnforcerConfig

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewEnforcer creates a retention enforcer. The policy must already be
// validated. sink may be nil when archiving is disabled; metrics may be nil.
func NewEnforcer(store audit.Store, sink Sink, policy Policy, logger *slog.Logger, metrics *jobs.Metrics, config EnforcerConfig) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultEnforcerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.DeleteBatchSize <= 0 {
		config.DeleteBatchSize = def.DeleteBatchSize
	}
	if config.PacingDelay <= 0 {
		config.PacingDelay = def.PacingDelay
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if policy.Format == "" {
		policy.Format = audit.ExportFormatJSON
	}

	return &Enforcer{
		store:    store,
		sink:     sink,
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		config:   config,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the retention loop in a background goroutine.
func (e *Enforcer) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop gracefully stops the enforcer, letting an in-flight cycle finish.
func (e *Enforcer) Stop() {
	close(e.stopChan)
	<-e.doneChan
}

// run executes cycles on a fixed interval with bounded backoff on failure.
func (e *Enforcer) run(ctx context.Context) {
	defer close(e.doneChan)

	e.logger.Info("retention enforcer started",
		slog.Duration("interval", e.config.Interval),
		slog.Duration("archive_after", e.policy.ArchiveAfter),
		slog.Duration("retain_for", e.policy.RetainFor),
		slog.Bool("archive_enabled", e.policy.ArchiveEnabled()),
		slog.Bool("auto_delete", e.policy.AutoDelete))

	for {
		delay := e.config.Interval
		if err := e.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				e.logger.Info("retention enforcer stopping due to context cancellation")
				return
			}
			e.logger.Error("retention cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_delay", e.config.RetryDelay))
			if e.metrics != nil {
				e.metrics.IncJobErrors(jobs.JobTypeRetentionCycle, "cycle_error")
			}
			delay = e.config.RetryDelay
		}

		select {
		case <-ctx.Done():
			e.logger.Info("retention enforcer stopping due to context cancellation")
			return
		case <-e.stopChan:
			e.logger.Info("retention enforcer stopping")
			return
		case <-time.After(delay):
		}
	}
}

// Cycle runs one archive-then-delete pass. Archiving never removes records
// from primary storage; deletion proceeds in bounded, paced batches. Partial
// progress is intentional: deletes commit per batch (at-least-once).
func (e *Enforcer) Cycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("retention panic: %v", rec)
		}
	}()

	ctx, endSpan := tracing.StartSpan(ctx, "retention.cycle")
	defer func() { endSpan(err) }()

	start := time.Now()
	cutoffs := e.policy.CutoffsAt(start.UTC())

	archived := 0
	if e.policy.ArchiveEnabled() {
		archived, err = e.archive(ctx, cutoffs.Archive)
		if err != nil {
			return fmt.Errorf("archive phase failed: %w", err)
		}
	}

	deleted := 0
	batches := 0
	if e.policy.AutoDelete {
		deleted, batches, err = e.deleteAged(ctx, cutoffs.Delete)
		if err != nil {
			return fmt.Errorf("delete phase failed: %w", err)
		}
	}

	duration := time.Since(start)
	e.logger.Info("retention cycle complete",
		slog.Int("archived", archived),
		slog.Int("deleted", deleted),
		slog.Int("delete_batches", batches),
		slog.Time("archive_cutoff", cutoffs.Archive),
		slog.Time("delete_cutoff", cutoffs.Delete),
		slog.Duration("duration", duration))

	if e.metrics != nil {
		e.metrics.IncJobsTotal(jobs.JobTypeRetentionCycle, jobs.StatusSuccess)
		e.metrics.ObserveJobDuration(jobs.JobTypeRetentionCycle, duration.Seconds())
	}
	return nil
}

// archive serializes all records older than the cutoff and appends them to
// the sink. Records stay in primary storage; a repeated cycle may archive the
// same records again, so objects are keyed per cycle and the sink must
// tolerate duplicates.
func (e *Enforcer) archive(ctx context.Context, cutoff time.Time) (int, error) {
	recs, err := e.store.Query(ctx, audit.Filter{Before: cutoff})
	if err != nil {
		return 0, fmt.Errorf("failed to query archive-eligible records: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	payload, err := audit.Export(recs, e.policy.Format)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize archive payload: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s%s",
		e.policy.Destination,
		time.Now().UTC().Format("2006-01-02"),
		uuid.New().String(),
		e.policy.Format.Extension())
	if err := e.sink.Write(ctx, key, payload); err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	e.logger.Info("records archived",
		slog.Int("count", len(recs)),
		slog.String("key", key))
	if e.metrics != nil {
		e.metrics.AddRecordsArchived(len(recs))
	}
	return len(recs), nil
}

// deleteAged removes records older than the cutoff in bounded batches with a
// pacing delay between batches, until none remain.
func (e *Enforcer) deleteAged(ctx context.Context, cutoff time.Time) (int, int, error) {
	totalDeleted := 0
	batches := 0

	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, batches, err
		}

		recs, err := e.store.Query(ctx, audit.Filter{Before: cutoff, Limit: e.config.DeleteBatchSize})
		if err != nil {
			return totalDeleted, batches, fmt.Errorf("failed to query delete-eligible records: %w", err)
		}
		if len(recs) == 0 {
			return totalDeleted, batches, nil
		}

		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		removed, err := e.store.Remove(ctx, ids)
		if err != nil {
			return totalDeleted, batches, fmt.Errorf("failed to delete batch: %w", err)
		}

		totalDeleted += removed
		batches++
		e.logger.Debug("delete batch complete",
			slog.Int("batch", batches),
			slog.Int("removed", removed))
		if e.metrics != nil {
			e.metrics.AddRecordsDeleted(removed)
		}

		if len(recs) < e.config.DeleteBatchSize {
			return totalDeleted, batches, nil
		}

		// Pace between batches to avoid saturating storage.
		select {
		case <-ctx.Done():
			return totalDeleted, batches, ctx.Err()
		case <-time.After(e.config.PacingDelay):
		}
	}
}
