// Package audit provides the audit record model, storage contracts, and the
// public logging/query service for the background audit pipeline.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action classifies what a record describes.
type Action string

const (
	ActionIntake   Action = "intake"
	ActionProcess  Action = "process"
	ActionRender   Action = "render"
	ActionSign     Action = "sign"
	ActionDeliver  Action = "deliver"
	ActionEscalate Action = "escalate"
	ActionArchive  Action = "archive"
	ActionDelete   Action = "delete"
	ActionOther    Action = "other"
)

// Stage identifies where in the document pipeline an action happened.
type Stage string

const (
	StageIntake      Stage = "intake"
	StageProcessing  Stage = "processing"
	StageRendering   Stage = "rendering"
	StageSigning     Stage = "signing"
	StageDelivery    Stage = "delivery"
	StageMaintenance Stage = "maintenance"
	StageUnknown     Stage = "unknown"
)

// Record is a single immutable audit fact. The ID is assigned once at
// construction and the record is never mutated afterwards.
type Record struct {
	ID            string
	CorrelationID string
	SubjectID     string // optional; empty when the action has no subject
	Action        Action
	Stage         Stage
	ActorID       string // optional; empty means a system action
	CreatedAt     time.Time
	Success       bool
	ErrorMessage  string
	Detail        string
}

// Entry is the input for creating an audit record.
type Entry struct {
	CorrelationID string
	SubjectID     string
	Action        Action
	Stage         Stage
	ActorID       string
	Success       bool
	ErrorMessage  string
	Detail        string
}

// NewRecord builds an immutable Record from an entry, assigning a fresh ID
// and a UTC creation timestamp.
func NewRecord(e Entry) *Record {
	return &Record{
		ID:            uuid.New().String(),
		CorrelationID: e.CorrelationID,
		SubjectID:     e.SubjectID,
		Action:        e.Action,
		Stage:         e.Stage,
		ActorID:       e.ActorID,
		CreatedAt:     time.Now().UTC(),
		Success:       e.Success,
		ErrorMessage:  e.ErrorMessage,
		Detail:        e.Detail,
	}
}
