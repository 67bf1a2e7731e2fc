package relay

import (
	"github.com/onnwee/auditpipe/internal/audit"
)

// Mapping is the audit classification of one domain event.
type Mapping struct {
	Action    audit.Action
	Stage     audit.Stage
	SubjectID string
}

// MapEvent is the total mapping from event variants to audit classification.
// Every kind maps somewhere; unknown kinds fall through to the default arm as
// a generic "other" action with no subject.
func MapEvent(ev *Event) Mapping {
	switch ev.Kind {
	case KindDocumentReceived:
		return Mapping{Action: audit.ActionIntake, Stage: audit.StageIntake, SubjectID: ev.DocumentID}
	case KindProcessingStarted, KindProcessingCompleted, KindProcessingFailed:
		return Mapping{Action: audit.ActionProcess, Stage: audit.StageProcessing, SubjectID: ev.DocumentID}
	case KindRenderCompleted:
		return Mapping{Action: audit.ActionRender, Stage: audit.StageRendering, SubjectID: ev.DocumentID}
	case KindSignatureApplied:
		return Mapping{Action: audit.ActionSign, Stage: audit.StageSigning, SubjectID: ev.DocumentID}
	case KindDeliveryCompleted, KindDeliveryFailed:
		return Mapping{Action: audit.ActionDeliver, Stage: audit.StageDelivery, SubjectID: ev.DocumentID}
	default:
		return Mapping{Action: audit.ActionOther, Stage: audit.StageUnknown}
	}
}
