package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

func TestDecodeFrameJSON(t *testing.T) {
	payload := []byte(`{
		"id": "evt-1",
		"kind": "document_received",
		"document_id": "doc-42",
		"correlation_id": "corr-9",
		"actor_id": "user-3",
		"time_us": 1724580000000000,
		"payload": {"pages": 12}
	}`)

	ev, err := DecodeFrame(websocket.TextMessage, payload)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if ev.ID != "evt-1" {
		t.Errorf("ID = %q, want evt-1", ev.ID)
	}
	if ev.Kind != KindDocumentReceived {
		t.Errorf("Kind = %q, want document_received", ev.Kind)
	}
	if ev.DocumentID != "doc-42" {
		t.Errorf("DocumentID = %q, want doc-42", ev.DocumentID)
	}
	if ev.CorrelationID != "corr-9" {
		t.Errorf("CorrelationID = %q, want corr-9", ev.CorrelationID)
	}
	if len(ev.Payload) == 0 {
		t.Error("Payload not captured")
	}
}

func TestDecodeFrameCBOR(t *testing.T) {
	src := Event{
		ID:         "evt-2",
		Kind:       KindProcessingFailed,
		DocumentID: "doc-7",
		Error:      "conversion timed out",
	}
	payload, err := cbor.Marshal(src)
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}

	ev, err := DecodeFrame(websocket.BinaryMessage, payload)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if ev.Kind != KindProcessingFailed {
		t.Errorf("Kind = %q, want processing_failed", ev.Kind)
	}
	if ev.Error != "conversion timed out" {
		t.Errorf("Error = %q, want conversion timed out", ev.Error)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name        string
		messageType int
		payload     []byte
		wantErr     error
	}{
		{"malformed json", websocket.TextMessage, []byte(`{not json`), ErrInvalidFrame},
		{"malformed cbor", websocket.BinaryMessage, []byte{0xff, 0xff}, ErrInvalidFrame},
		{"unsupported type", websocket.PingMessage, []byte(`{}`), ErrInvalidFrame},
		{"missing kind", websocket.TextMessage, []byte(`{"id":"evt-3"}`), ErrMissingKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.messageType, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventIsFailure(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"processing failed", Event{Kind: KindProcessingFailed}, true},
		{"delivery failed", Event{Kind: KindDeliveryFailed}, true},
		{"success variant", Event{Kind: KindRenderCompleted}, false},
		{"success variant with error text", Event{Kind: KindRenderCompleted, Error: "partial"}, true},
		{"unknown kind clean", Event{Kind: "future_event"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.IsFailure(); got != tt.want {
				t.Errorf("IsFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventSnapshot(t *testing.T) {
	ev := &Event{
		ID:      "evt-4",
		Kind:    KindSignatureApplied,
		Payload: json.RawMessage(`{"certificate":"abc"}`),
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(ev.Snapshot()), &decoded); err != nil {
		t.Fatalf("Snapshot() is not valid JSON: %v", err)
	}
	if decoded["kind"] != "signature_applied" {
		t.Errorf("snapshot kind = %v, want signature_applied", decoded["kind"])
	}
}

func TestEventSnapshotFallback(t *testing.T) {
	// A payload that is not valid JSON (as CBOR-decoded bytes can be) forces
	// the identifying-fields fallback.
	ev := &Event{
		ID:      "evt-5",
		Kind:    KindProcessingStarted,
		Payload: json.RawMessage{0x01, 0x02},
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(ev.Snapshot()), &decoded); err != nil {
		t.Fatalf("fallback Snapshot() is not valid JSON: %v", err)
	}
	if decoded["id"] != "evt-5" {
		t.Errorf("fallback snapshot id = %v, want evt-5", decoded["id"])
	}
}
