package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/auditpipe/internal/audit"
	"github.com/onnwee/auditpipe/internal/jobs"
)

// Relay holds the lifetime subscription to the domain event stream and maps
// every event into a persisted audit record. It is best-effort telemetry: no
// mapping or persistence failure ever terminates the subscription or pushes
// back on the publisher.
type Relay struct {
	submit  audit.Submitter
	dedup   Deduper // optional
	logger  *slog.Logger
	metrics *jobs.Metrics // optional

	stream *Stream

	// submitTimeout bounds how long a single dispatch may wait on queue
	// capacity before the event is dropped.
	submitTimeout time.Duration
}

// NewRelay creates the relay and its underlying stream client. dedup and
// metrics may be nil.
func NewRelay(streamCfg StreamConfig, submit audit.Submitter, dedup Deduper, logger *slog.Logger, metrics *jobs.Metrics) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		submit:        submit,
		dedup:         dedup,
		logger:        logger,
		metrics:       metrics,
		submitTimeout: 5 * time.Second,
	}
	stream, err := NewStream(streamCfg, r.handleFrame, logger)
	if err != nil {
		return nil, err
	}
	r.stream = stream
	return r, nil
}

// Run subscribes and blocks until the context is cancelled. The subscription
// is released only on shutdown.
func (r *Relay) Run(ctx context.Context) error {
	return r.stream.Run(ctx)
}

// handleFrame processes one stream frame. It always returns nil: errors are
// logged and swallowed so the subscription never drops because of them.
func (r *Relay) handleFrame(messageType int, payload []byte) error {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("relay dispatch panic", slog.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.submitTimeout)
	defer cancel()

	ev, err := DecodeFrame(messageType, payload)
	if err != nil {
		r.logger.Warn("dropping undecodable event frame",
			slog.String("error", err.Error()))
		if r.metrics != nil {
			r.metrics.IncRelayEvents("unknown", "decode_error")
		}
		return nil
	}

	if r.dedup != nil && ev.ID != "" {
		seen, err := r.dedup.Seen(ctx, ev.ID)
		if err != nil {
			// Dedup is advisory; on error the event is relayed anyway.
			r.logger.Warn("event dedup check failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()))
		} else if seen {
			r.logger.Debug("skipping redelivered event",
				slog.String("event_id", ev.ID))
			if r.metrics != nil {
				r.metrics.IncRelayEvents(string(ev.Kind), "duplicate")
			}
			return nil
		}
	}

	mapping := MapEvent(ev)
	rec := r.buildRecord(ev, mapping)

	if err := r.submit.Submit(ctx, rec); err != nil {
		r.logger.Warn("relayed record not accepted",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()))
		if r.metrics != nil {
			r.metrics.IncRelayEvents(string(mapping.Action), jobs.StatusFailure)
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.IncRelayEvents(string(mapping.Action), jobs.StatusSuccess)
	}
	return nil
}

// buildRecord constructs the audit record for an event. The record ID is the
// publisher event ID when present, so redelivered events stay idempotent even
// without a deduper in front.
func (r *Relay) buildRecord(ev *Event, m Mapping) *audit.Record {
	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	rec := audit.NewRecord(audit.Entry{
		CorrelationID: correlationID,
		SubjectID:     m.SubjectID,
		Action:        m.Action,
		Stage:         m.Stage,
		ActorID:       ev.ActorID,
		Success:       !ev.IsFailure(),
		ErrorMessage:  ev.Error,
		Detail:        ev.Snapshot(),
	})
	if ev.ID != "" {
		rec.ID = ev.ID
	}
	return rec
}
