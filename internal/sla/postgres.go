package sla

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store on top of PostgreSQL. Updates are guarded so
// a case's level can never move backwards even under concurrent writers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed case store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// levelRank orders level names for the monotonic update guard.
const levelRankSQL = `
	CASE %s
		WHEN 'warning' THEN 1
		WHEN 'critical' THEN 2
		WHEN 'breached' THEN 3
		ELSE 0
	END`

// ActiveCases returns all open cases, oldest deadline first.
func (s *PostgresStore) ActiveCases(ctx context.Context) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, correlation_id, deadline, level, escalated_at, created_at
		FROM sla_cases
		WHERE closed_at IS NULL
		ORDER BY deadline ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active cases: %w", err)
	}
	defer rows.Close()

	var results []*Case
	for rows.Next() {
		var c Case
		var level string
		var escalatedAt sql.NullTime
		if err := rows.Scan(&c.SubjectID, &c.CorrelationID, &c.Deadline, &level, &escalatedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		c.Level = ParseLevel(level)
		if escalatedAt.Valid {
			ts := escalatedAt.Time
			c.EscalatedAt = &ts
		}
		results = append(results, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return results, nil
}

// Put creates or replaces a case, reopening it if it was closed.
func (s *PostgresStore) Put(ctx context.Context, c *Case) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sla_cases (subject_id, correlation_id, deadline, level, escalated_at, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (subject_id) DO UPDATE
		SET correlation_id = EXCLUDED.correlation_id,
		    deadline = EXCLUDED.deadline,
		    level = EXCLUDED.level,
		    escalated_at = EXCLUDED.escalated_at,
		    closed_at = NULL`,
		c.SubjectID, c.CorrelationID, c.Deadline, c.Level.String(), nullableTime(c.EscalatedAt), createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert case: %w", err)
	}
	return nil
}

// Update persists the level and escalation timestamp in one statement. The
// guard keeps the level monotonic: a stale writer cannot lower it.
func (s *PostgresStore) Update(ctx context.Context, c *Case) error {
	guard := fmt.Sprintf(levelRankSQL, "level")
	incoming := fmt.Sprintf(levelRankSQL, "$2")
	result, err := s.db.ExecContext(ctx, `
		UPDATE sla_cases
		SET level = $2, escalated_at = $3
		WHERE subject_id = $1
		  AND closed_at IS NULL
		  AND `+guard+` < `+incoming,
		c.SubjectID, c.Level.String(), nullableTime(c.EscalatedAt))
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.SubjectID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Either closed, missing, or already at/above this level. Check
		// existence so callers can distinguish a vanished case.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sla_cases WHERE subject_id = $1 AND closed_at IS NULL)`,
			c.SubjectID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check case existence: %w", err)
		}
		if !exists {
			return ErrCaseNotFound
		}
	}
	return nil
}

// Close marks the case closed, removing it from the active working set.
func (s *PostgresStore) Close(ctx context.Context, subjectID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sla_cases SET closed_at = NOW() WHERE subject_id = $1 AND closed_at IS NULL`,
		subjectID)
	if err != nil {
		return fmt.Errorf("failed to close case %s: %w", subjectID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
