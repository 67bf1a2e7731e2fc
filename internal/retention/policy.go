// Package retention enforces the audit record lifecycle: aged records are
// archived to an external sink and later deleted in bounded, paced batches.
package retention

import (
	"errors"
	"time"

	"github.com/onnwee/auditpipe/internal/audit"
)

// Policy validation errors.
var (
	// ErrArchiveAfterNotPositive is returned when ArchiveAfter is unset or negative.
	ErrArchiveAfterNotPositive = errors.New("archive-after must be positive")
	// ErrRetainForNotPositive is returned when RetainFor is unset or negative.
	ErrRetainForNotPositive = errors.New("retain-for must be positive")
	// ErrRetainShorterThanArchive is returned when RetainFor <= ArchiveAfter.
	ErrRetainShorterThanArchive = errors.New("retain-for must be longer than archive-after")
)

// Policy governs the lifecycle of audit records. It is configuration, not
// per-record state.
type Policy struct {
	// ArchiveAfter is the age at which records become eligible for archival.
	ArchiveAfter time.Duration

	// RetainFor is the age at which records become eligible for deletion.
	// Must be longer than ArchiveAfter so archiving always precedes deletion.
	RetainFor time.Duration

	// Destination is the archive sink destination (e.g. bucket prefix).
	// Empty disables archiving.
	Destination string

	// AutoDelete enables the delete phase.
	AutoDelete bool

	// Format selects the archive serialization. Default: JSON.
	Format audit.ExportFormat
}

// ArchiveEnabled reports whether the archive phase runs.
func (p Policy) ArchiveEnabled() bool { return p.Destination != "" }

// Validate checks the policy invariants. Called at load time; a policy that
// fails validation must not be enforced.
func (p Policy) Validate() error {
	if p.ArchiveAfter <= 0 {
		return ErrArchiveAfterNotPositive
	}
	if p.RetainFor <= 0 {
		return ErrRetainForNotPositive
	}
	if p.RetainFor <= p.ArchiveAfter {
		return ErrRetainShorterThanArchive
	}
	return nil
}

// Cutoffs computes the archive and delete cutoff timestamps for an instant.
// Records older than ArchiveCutoff are archive-eligible; records older than
// DeleteCutoff are delete-eligible.
type Cutoffs struct {
	Archive time.Time
	Delete  time.Time
}

// CutoffsAt derives both cutoffs from the policy at the given instant.
func (p Policy) CutoffsAt(now time.Time) Cutoffs {
	return Cutoffs{
		Archive: now.Add(-p.ArchiveAfter),
		Delete:  now.Add(-p.RetainFor),
	}
}
