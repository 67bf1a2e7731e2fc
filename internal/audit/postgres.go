package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store on top of PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertRecordSQL = `
	INSERT INTO audit_records
		(id, correlation_id, subject_id, action, stage, actor_id, created_at, success, error_message, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// Add persists a single record.
func (s *PostgresStore) Add(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordSQL,
		rec.ID, rec.CorrelationID, rec.SubjectID, string(rec.Action), string(rec.Stage),
		rec.ActorID, rec.CreatedAt, rec.Success, rec.ErrorMessage, rec.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// AddBatch persists a batch in one transaction, preserving insertion order.
func (s *PostgresStore) AddBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.CorrelationID, rec.SubjectID, string(rec.Action), string(rec.Stage),
			rec.ActorID, rec.CreatedAt, rec.Success, rec.ErrorMessage, rec.Detail); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Query returns matching records, oldest first.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]*Record, error) {
	where, args := buildWhere(f)
	query := `
		SELECT id, correlation_id, subject_id, action, stage, actor_id, created_at, success, error_message, detail
		FROM audit_records` + where + `
		ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var results []*Record
	for rows.Next() {
		var rec Record
		var action, stage string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.SubjectID, &action, &stage,
			&rec.ActorID, &rec.CreatedAt, &rec.Success, &rec.ErrorMessage, &rec.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Action = Action(action)
		rec.Stage = Stage(stage)
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return results, nil
}

// Remove deletes the given record IDs and reports how many rows were removed.
func (s *PostgresStore) Remove(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Count reports how many records match the filter.
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return n, nil
}

// buildWhere translates a Filter into a WHERE clause and its arguments.
func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if !f.After.IsZero() {
		add("created_at >= $%d", f.After)
	}
	if !f.Before.IsZero() {
		add("created_at < $%d", f.Before)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
