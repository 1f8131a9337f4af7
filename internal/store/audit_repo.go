package store

import (
	"context"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db DBTX, rec domain.AuditRecord) error {
	const q = `INSERT INTO audit_records (id, subject_id, category, actor, action, request_json, decision_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.SubjectID,
		rec.Category,
		rec.Actor,
		rec.Action,
		rec.RequestJSON,
		rec.DecisionJSON,
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListBySubject returns all audit records for a subject, ordered by creation time.
func (r *AuditRepo) ListBySubject(ctx context.Context, db DBTX, subjectID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, subject_id, category, actor, action, request_json, decision_json, severity, created_at
FROM audit_records
WHERE subject_id = ?
ORDER BY created_at ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, q, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.Category, &a.Actor, &a.Action,
			&a.RequestJSON, &a.DecisionJSON, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
