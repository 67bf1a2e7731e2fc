// Package sla tracks deadline-bound cases and escalates them through an
// ordered severity ladder as their deadlines approach and pass.
package sla

import (
	"time"
)

// Level is the ordered escalation severity of a case. Levels only ever
// increase for a given case.
type Level int

const (
	// LevelNone means the case is within its deadline comfort zone.
	LevelNone Level = iota
	// LevelWarning means the deadline is approaching.
	LevelWarning
	// LevelCritical means the deadline is imminent.
	LevelCritical
	// LevelBreached means the deadline has passed.
	LevelBreached
)

// String returns the level's wire/reporting name.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelBreached:
		return "breached"
	default:
		return "unknown"
	}
}

// ParseLevel maps a stored level name back to a Level. Unknown names map to
// LevelNone.
func ParseLevel(s string) Level {
	switch s {
	case "warning":
		return LevelWarning
	case "critical":
		return LevelCritical
	case "breached":
		return LevelBreached
	default:
		return LevelNone
	}
}

// Case tracks one unit of work against a deadline. Level is monotonically
// non-decreasing; EscalatedAt is stamped on every upward transition and never
// cleared.
type Case struct {
	SubjectID     string
	CorrelationID string
	Deadline      time.Time
	Level         Level
	EscalatedAt   *time.Time
	CreatedAt     time.Time
}

// Remaining returns the time left until the deadline at the given instant.
// Negative once the deadline has passed.
func (c *Case) Remaining(now time.Time) time.Duration {
	return c.Deadline.Sub(now)
}

// Thresholds define when a case crosses into each level, expressed as
// remaining time before the deadline.
type Thresholds struct {
	// WarnWithin escalates to LevelWarning once remaining <= WarnWithin.
	WarnWithin time.Duration
	// CriticalWithin escalates to LevelCritical once remaining <= CriticalWithin.
	CriticalWithin time.Duration
}

// TargetLevel computes the level a case should be at for the given remaining
// time. Breach happens at remaining <= 0 regardless of thresholds.
func (t Thresholds) TargetLevel(remaining time.Duration) Level {
	switch {
	case remaining <= 0:
		return LevelBreached
	case t.CriticalWithin > 0 && remaining <= t.CriticalWithin:
		return LevelCritical
	case t.WarnWithin > 0 && remaining <= t.WarnWithin:
		return LevelWarning
	default:
		return LevelNone
	}
}

// Advance moves the case to the target level for the given instant if that
// level is higher than the current one, stamping EscalatedAt. Returns true
// when the case escalated. Levels never decrease.
func (c *Case) Advance(now time.Time, t Thresholds) bool {
	target := t.TargetLevel(c.Remaining(now))
	if target <= c.Level {
		return false
	}
	c.Level = target
	ts := now
	c.EscalatedAt = &ts
	return true
}
