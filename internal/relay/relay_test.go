package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/auditpipe/internal/audit"
)

// recordingSubmitter captures submitted records; err makes every Submit fail.
type recordingSubmitter struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (s *recordingSubmitter) Submit(ctx context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSubmitter) all() []*audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Record(nil), s.records...)
}

func newTestRelay(t *testing.T, submit audit.Submitter, dedup Deduper) *Relay {
	t.Helper()
	r, err := NewRelay(DefaultStreamConfig("ws://localhost:1"), submit, dedup, nil, nil)
	if err != nil {
		t.Fatalf("NewRelay() error = %v", err)
	}
	return r
}

func TestRelayHandleFrame(t *testing.T) {
	submit := &recordingSubmitter{}
	r := newTestRelay(t, submit, nil)

	frame := []byte(`{
		"id": "evt-1",
		"kind": "delivery_completed",
		"document_id": "doc-9",
		"correlation_id": "corr-5",
		"actor_id": "courier-2"
	}`)
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	recs := submit.all()
	if len(recs) != 1 {
		t.Fatalf("submitted records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.ID != "evt-1" {
		t.Errorf("record ID = %s, want the publisher event ID evt-1", rec.ID)
	}
	if rec.Action != audit.ActionDeliver {
		t.Errorf("Action = %s, want deliver", rec.Action)
	}
	if rec.Stage != audit.StageDelivery {
		t.Errorf("Stage = %s, want delivery", rec.Stage)
	}
	if rec.SubjectID != "doc-9" {
		t.Errorf("SubjectID = %s, want doc-9", rec.SubjectID)
	}
	if rec.CorrelationID != "corr-5" {
		t.Errorf("CorrelationID = %s, want corr-5", rec.CorrelationID)
	}
	if !rec.Success {
		t.Error("Success = false for a completed delivery")
	}
	if rec.Detail == "" {
		t.Error("Detail missing the event snapshot")
	}
}

func TestRelayFailureEvent(t *testing.T) {
	submit := &recordingSubmitter{}
	r := newTestRelay(t, submit, nil)

	frame := []byte(`{"kind":"processing_failed","document_id":"doc-1","error":"ocr crashed"}`)
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	recs := submit.all()
	if len(recs) != 1 {
		t.Fatalf("submitted records = %d, want 1", len(recs))
	}
	if recs[0].Success {
		t.Error("Success = true for a failure event")
	}
	if recs[0].ErrorMessage != "ocr crashed" {
		t.Errorf("ErrorMessage = %q, want \"ocr crashed\"", recs[0].ErrorMessage)
	}
	if recs[0].CorrelationID == "" {
		t.Error("CorrelationID not generated for an event without one")
	}
}

func TestRelayPersistenceFailureIsSwallowed(t *testing.T) {
	// The cardinal rule: a failing write path never propagates an error back
	// to the stream, so the subscription survives.
	submit := &recordingSubmitter{err: errors.New("store down")}
	r := newTestRelay(t, submit, nil)

	frame := []byte(`{"kind":"document_received","document_id":"doc-1"}`)
	for i := 0; i < 5; i++ {
		if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
			t.Fatalf("handleFrame() error = %v, want nil even when persistence fails", err)
		}
	}
}

func TestRelayUndecodableFrameIsDropped(t *testing.T) {
	submit := &recordingSubmitter{}
	r := newTestRelay(t, submit, nil)

	if err := r.handleFrame(websocket.TextMessage, []byte(`garbage{`)); err != nil {
		t.Fatalf("handleFrame() error = %v, want nil for an undecodable frame", err)
	}
	if len(submit.all()) != 0 {
		t.Error("undecodable frame produced a record")
	}
}

func TestRelayDedupSkipsRedelivery(t *testing.T) {
	submit := &recordingSubmitter{}
	r := newTestRelay(t, submit, NewMemoryDeduper(time.Minute))

	frame := []byte(`{"id":"evt-7","kind":"render_completed","document_id":"doc-1"}`)
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() redelivery error = %v", err)
	}

	if got := len(submit.all()); got != 1 {
		t.Errorf("submitted records = %d, want 1 (redelivery deduped)", got)
	}
}

func TestRelayEventWithoutIDBypassesDedup(t *testing.T) {
	submit := &recordingSubmitter{}
	r := newTestRelay(t, submit, NewMemoryDeduper(time.Minute))

	frame := []byte(`{"kind":"render_completed","document_id":"doc-1"}`)
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}
	if err := r.handleFrame(websocket.TextMessage, frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	// Without a publisher ID there is nothing to dedup on.
	if got := len(submit.all()); got != 2 {
		t.Errorf("submitted records = %d, want 2", got)
	}
}
