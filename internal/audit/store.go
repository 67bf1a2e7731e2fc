package audit

import (
	"context"
	"time"
)

// Filter narrows a store query. Zero values mean "no constraint".
type Filter struct {
	SubjectID     string
	CorrelationID string
	Action        Action
	ActorID       string
	After         time.Time // CreatedAt >= After
	Before        time.Time // CreatedAt < Before
	Limit         int       // 0 = no limit
	Offset        int
}

// Store is the storage collaborator shared by the pipeline engines. All
// operations are context-aware; implementations provide their own
// concurrency control.
type Store interface {
	// Add persists a single record.
	Add(ctx context.Context, rec *Record) error

	// AddBatch persists a closed batch of records in one write, preserving
	// the batch's insertion order.
	AddBatch(ctx context.Context, recs []*Record) error

	// Query returns records matching the filter, oldest first.
	Query(ctx context.Context, f Filter) ([]*Record, error)

	// Remove deletes the records with the given IDs and reports how many
	// were actually removed.
	Remove(ctx context.Context, ids []string) (int, error)

	// Count reports how many records match the filter.
	Count(ctx context.Context, f Filter) (int, error)
}

// matches reports whether a record satisfies the filter's predicates.
// Shared by the in-memory store and export filtering.
func (f Filter) matches(rec *Record) bool {
	if f.SubjectID != "" && rec.SubjectID != f.SubjectID {
		return false
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.ActorID != "" && rec.ActorID != f.ActorID {
		return false
	}
	if !f.After.IsZero() && rec.CreatedAt.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !rec.CreatedAt.Before(f.Before) {
		return false
	}
	return true
}
