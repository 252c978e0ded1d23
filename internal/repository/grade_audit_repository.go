package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stemsi/clonearena-backend/internal/model"
)

// GradeAuditSchema creates the audit table.
var GradeAuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS grade_audit (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT    NOT NULL,
		similarity  INTEGER NOT NULL,
		reasoning   TEXT    NOT NULL DEFAULT '',
		fallback    INTEGER NOT NULL DEFAULT 0,
		error       TEXT    NOT NULL DEFAULT '',
		graded_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_grade_audit_graded_at ON grade_audit (graded_at)`,
}

type GradeAuditRepository struct {
	db *sql.DB
}

func NewGradeAuditRepository(db *sql.DB) *GradeAuditRepository {
	return &GradeAuditRepository{db: db}
}

const insertGradeAudit = `INSERT INTO grade_audit (request_id, similarity, reasoning, fallback, error, graded_at)
	VALUES (?, ?, ?, ?, ?, ?)`

func (r *GradeAuditRepository) Insert(ctx context.Context, rec *model.GradeAuditRecord) error {
	_, err := r.db.ExecContext(ctx, insertGradeAudit,
		rec.RequestID, rec.Similarity, rec.Reasoning, rec.Fallback, rec.Error, rec.GradedAt)
	return err
}

// InsertBatch writes all records in one transaction.
func (r *GradeAuditRepository) InsertBatch(ctx context.Context, recs []*model.GradeAuditRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertGradeAudit)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.RequestID, rec.Similarity, rec.Reasoning, rec.Fallback, rec.Error, rec.GradedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns the latest records, newest first.
func (r *GradeAuditRepository) Recent(ctx context.Context, limit int) ([]model.GradeAuditRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT request_id, similarity, reasoning, fallback, error, graded_at
		 FROM grade_audit ORDER BY graded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GradeAuditRecord
	for rows.Next() {
		var rec model.GradeAuditRecord
		if err := rows.Scan(&rec.RequestID, &rec.Similarity, &rec.Reasoning, &rec.Fallback, &rec.Error, &rec.GradedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
