package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Validation errors returned to callers of the logging API.
var (
	// ErrMissingCorrelationID is returned when a log entry has no correlation ID.
	ErrMissingCorrelationID = errors.New("correlation ID cannot be empty")
	// ErrMissingAction is returned when a log entry has no action.
	ErrMissingAction = errors.New("action cannot be empty")
	// ErrInvalidAction is returned when an unknown action is provided.
	ErrInvalidAction = errors.New("unknown action")
	// ErrInvalidStage is returned when an unknown stage is provided.
	ErrInvalidStage = errors.New("unknown stage")
)

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[Action]bool{
	ActionIntake:   true,
	ActionProcess:  true,
	ActionRender:   true,
	ActionSign:     true,
	ActionDeliver:  true,
	ActionEscalate: true,
	ActionArchive:  true,
	ActionDelete:   true,
	ActionOther:    true,
}

// ValidStages defines the allowed stages for audit logging.
var ValidStages = map[Stage]bool{
	StageIntake:      true,
	StageProcessing:  true,
	StageRendering:   true,
	StageSigning:     true,
	StageDelivery:    true,
	StageMaintenance: true,
	StageUnknown:     true,
}

// OutcomeStatus is the result class of a logging call.
type OutcomeStatus string

const (
	// StatusAccepted means the record was accepted into the pipeline. It does
	// not imply durable persistence; flushing happens in the background.
	StatusAccepted OutcomeStatus = "accepted"
	// StatusCancelled means the caller's context was cancelled before the
	// record could be accepted. Distinct from failure.
	StatusCancelled OutcomeStatus = "cancelled"
	// StatusFailed means the record was rejected or could not be accepted.
	StatusFailed OutcomeStatus = "failed"
)

// Outcome is the typed result of a LogEvent call. Expected failure modes are
// reported here rather than panicking past the caller.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// Accepted reports whether the record entered the pipeline.
func (o Outcome) Accepted() bool { return o.Status == StatusAccepted }

// Submitter accepts a constructed record into the write path. The ingest
// queue implements this; DirectSubmitter bypasses batching for hosts that
// run without a queue.
type Submitter interface {
	Submit(ctx context.Context, rec *Record) error
}

// DirectSubmitter writes records straight to the store, one write per record.
type DirectSubmitter struct {
	Store Store
}

// Submit persists the record immediately.
func (d DirectSubmitter) Submit(ctx context.Context, rec *Record) error {
	return d.Store.Add(ctx, rec)
}

// Service is the public audit API: fire-and-forget logging plus queries over
// persisted records.
type Service struct {
	submit Submitter
	store  Store
	logger *slog.Logger
}

// NewService creates the audit service. submit is the write path (usually the
// ingest queue); store serves queries.
func NewService(submit Submitter, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{submit: submit, store: store, logger: logger}
}

// validateEntry checks the required fields of a log entry against the
// allowed action and stage sets.
func validateEntry(e Entry) error {
	if e.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	if e.Action == "" {
		return ErrMissingAction
	}
	if !ValidActions[e.Action] {
		return fmt.Errorf("%w: %s", ErrInvalidAction, e.Action)
	}
	if e.Stage != "" && !ValidStages[e.Stage] {
		return fmt.Errorf("%w: %s", ErrInvalidStage, e.Stage)
	}
	return nil
}

// LogEvent validates the entry, constructs an immutable record, and hands it
// to the write path. The caller only waits for acceptance, never for the
// storage write. All expected failure modes come back as a typed outcome.
func (s *Service) LogEvent(ctx context.Context, e Entry) Outcome {
	if err := validateEntry(e); err != nil {
		return Outcome{Status: StatusFailed, Reason: err.Error()}
	}
	if e.Stage == "" {
		e.Stage = StageUnknown
	}

	rec := NewRecord(e)
	if err := s.submit.Submit(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Status: StatusCancelled, Reason: err.Error()}
		}
		s.logger.Warn("audit record not accepted",
			slog.String("record_id", rec.ID),
			slog.String("action", string(rec.Action)),
			slog.String("error", err.Error()))
		return Outcome{Status: StatusFailed, Reason: err.Error()}
	}
	return Outcome{Status: StatusAccepted}
}

// QueryBySubject returns all records for a subject, oldest first.
func (s *Service) QueryBySubject(ctx context.Context, subjectID string) ([]*Record, error) {
	return s.store.Query(ctx, Filter{SubjectID: subjectID})
}

// QueryByCorrelation returns all records sharing a correlation ID, oldest first.
func (s *Service) QueryByCorrelation(ctx context.Context, correlationID string) ([]*Record, error) {
	return s.store.Query(ctx, Filter{CorrelationID: correlationID})
}

// QueryByRange returns records created in [start, end), optionally narrowed
// by action and actor.
func (s *Service) QueryByRange(ctx context.Context, start, end time.Time, action Action, actorID string) ([]*Record, error) {
	return s.store.Query(ctx, Filter{After: start, Before: end, Action: action, ActorID: actorID})
}
