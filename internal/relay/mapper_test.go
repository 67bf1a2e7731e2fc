package relay

import (
	"testing"

	"github.com/onnwee/auditpipe/internal/audit"
)

func TestMapEvent(t *testing.T) {
	tests := []struct {
		kind        Kind
		wantAction  audit.Action
		wantStage   audit.Stage
		wantSubject string
	}{
		{KindDocumentReceived, audit.ActionIntake, audit.StageIntake, "doc-1"},
		{KindProcessingStarted, audit.ActionProcess, audit.StageProcessing, "doc-1"},
		{KindProcessingCompleted, audit.ActionProcess, audit.StageProcessing, "doc-1"},
		{KindProcessingFailed, audit.ActionProcess, audit.StageProcessing, "doc-1"},
		{KindRenderCompleted, audit.ActionRender, audit.StageRendering, "doc-1"},
		{KindSignatureApplied, audit.ActionSign, audit.StageSigning, "doc-1"},
		{KindDeliveryCompleted, audit.ActionDeliver, audit.StageDelivery, "doc-1"},
		{KindDeliveryFailed, audit.ActionDeliver, audit.StageDelivery, "doc-1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m := MapEvent(&Event{Kind: tt.kind, DocumentID: "doc-1"})
			if m.Action != tt.wantAction {
				t.Errorf("Action = %s, want %s", m.Action, tt.wantAction)
			}
			if m.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", m.Stage, tt.wantStage)
			}
			if m.SubjectID != tt.wantSubject {
				t.Errorf("SubjectID = %s, want %s", m.SubjectID, tt.wantSubject)
			}
		})
	}
}

func TestMapEventUnknownKind(t *testing.T) {
	// Unknown kinds are still relayed, classified as a generic action with no
	// subject rather than dropped.
	m := MapEvent(&Event{Kind: "holographic_stamp_applied", DocumentID: "doc-1"})
	if m.Action != audit.ActionOther {
		t.Errorf("Action = %s, want %s", m.Action, audit.ActionOther)
	}
	if m.Stage != audit.StageUnknown {
		t.Errorf("Stage = %s, want %s", m.Stage, audit.StageUnknown)
	}
	if m.SubjectID != "" {
		t.Errorf("SubjectID = %q, want empty for unknown kinds", m.SubjectID)
	}
}
