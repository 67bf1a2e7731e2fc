package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Frame decoding errors.
var (
	ErrInvalidFrame = errors.New("invalid event frame")
	ErrMissingKind  = errors.New("missing event kind")
)

// Kind tags the closed set of domain event variants. Unknown kinds are still
// relayed, mapped through the default arm.
type Kind string

const (
	KindDocumentReceived    Kind = "document_received"
	KindProcessingStarted   Kind = "processing_started"
	KindProcessingCompleted Kind = "processing_completed"
	KindProcessingFailed    Kind = "processing_failed"
	KindRenderCompleted     Kind = "render_completed"
	KindSignatureApplied    Kind = "signature_applied"
	KindDeliveryCompleted   Kind = "delivery_completed"
	KindDeliveryFailed      Kind = "delivery_failed"
)

// Event is one domain event received from the stream. Text frames carry JSON
// envelopes; binary frames carry the same envelope encoded as CBOR.
type Event struct {
	// ID is the publisher-assigned event identifier, used for redelivery
	// dedup. May be empty for publishers without one.
	ID string `json:"id,omitempty" cbor:"id,omitempty"`

	// Kind is the event variant tag.
	Kind Kind `json:"kind" cbor:"kind"`

	// DocumentID identifies the pipeline subject, when the event has one.
	DocumentID string `json:"document_id,omitempty" cbor:"document_id,omitempty"`

	// CorrelationID ties the event to a pipeline run.
	CorrelationID string `json:"correlation_id,omitempty" cbor:"correlation_id,omitempty"`

	// ActorID is the acting principal; empty means a system action.
	ActorID string `json:"actor_id,omitempty" cbor:"actor_id,omitempty"`

	// TimeUS is the publisher timestamp in microseconds.
	TimeUS int64 `json:"time_us,omitempty" cbor:"time_us,omitempty"`

	// Error carries the failure message for error variants.
	Error string `json:"error,omitempty" cbor:"error,omitempty"`

	// Payload is the variant-specific body, kept opaque here and snapshotted
	// into the audit record's detail.
	Payload json.RawMessage `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// IsFailure reports whether the event is an error variant.
func (e *Event) IsFailure() bool {
	switch e.Kind {
	case KindProcessingFailed, KindDeliveryFailed:
		return true
	}
	return e.Error != ""
}

// DecodeFrame parses a stream frame into an Event. Binary frames are decoded
// as CBOR, text frames as JSON.
func DecodeFrame(messageType int, payload []byte) (*Event, error) {
	var ev Event
	switch messageType {
	case websocket.BinaryMessage:
		if err := cbor.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	case websocket.TextMessage:
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrInvalidFrame, messageType)
	}

	if ev.Kind == "" {
		return nil, ErrMissingKind
	}
	return &ev, nil
}

// Snapshot serializes the event envelope for the audit record's detail field.
// The snapshot is always JSON, regardless of the wire encoding.
func (e *Event) Snapshot() string {
	data, err := json.Marshal(e)
	if err != nil {
		// A raw payload that round-trips through CBOR can fail JSON
		// marshaling; fall back to the identifying fields.
		return fmt.Sprintf(`{"id":%q,"kind":%q}`, e.ID, e.Kind)
	}
	return string(data)
}
