package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions and records in Postgres. The single hard
// consistency rule — one record per (student, course, date) — lives in the
// table's unique constraint, not here.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// InsertSession writes a new session.
func (r *Repository) InsertSession(ctx context.Context, sess Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, course_id, created_by, title, notes, state, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.CourseID, sess.CreatedBy, sess.Title, sess.Notes, sess.State, sess.Payload, sess.CreatedAt, sess.ExpiresAt)
	return err
}

// GetSession returns a session by id, or nil when absent.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, created_by, title, notes, state, payload, scan_count, last_scan_at, created_at, expires_at
		FROM attendance_sessions WHERE id = $1
	`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.CourseID, &sess.CreatedBy, &sess.Title, &sess.Notes, &sess.State,
		&sess.Payload, &sess.ScanCount, &sess.LastScanAt, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// FinishSession transitions a session out of Active. The state guard makes
// terminal states sticky: whichever transition commits first wins and a later
// one affects zero rows.
func (r *Repository) FinishSession(ctx context.Context, id string, state State, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET state = $2, expires_at = $3
		WHERE id = $1 AND state = 'active'
	`, id, state, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordScan bumps the scan counter and last-scan timestamp.
func (r *Repository) RecordScan(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET scan_count = scan_count + 1, last_scan_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

// ListActiveSessions returns sessions still Active as of now. The expiry
// comparison is part of the query so a stale stored flag cannot leak through.
func (r *Repository) ListActiveSessions(ctx context.Context, courseID string, now time.Time) ([]Session, error) {
	query := `
		SELECT id, course_id, created_by, title, notes, state, payload, scan_count, last_scan_at, created_at, expires_at
		FROM attendance_sessions
		WHERE state = 'active' AND expires_at > $1`
	args := []any{now}
	if courseID != "" {
		query += ` AND course_id = $2`
		args = append(args, courseID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CourseID, &sess.CreatedBy, &sess.Title, &sess.Notes, &sess.State,
			&sess.Payload, &sess.ScanCount, &sess.LastScanAt, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

// ExpireDue flips every overdue Active session to Expired and returns the
// flipped sessions so the caller can broadcast them. Used by the sweep
// worker; scan and list paths do not depend on it.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE attendance_sessions
		SET state = 'expired'
		WHERE state = 'active' AND expires_at <= $1
		RETURNING id, course_id, created_by, title, notes, state, payload, scan_count, last_scan_at, created_at, expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CourseID, &sess.CreatedBy, &sess.Title, &sess.Notes, &sess.State,
			&sess.Payload, &sess.ScanCount, &sess.LastScanAt, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

// UpsertRecord writes the record for (student, course, date), overwriting any
// existing one in place. The conflict target is the unique constraint; the
// existing row keeps its id.
func (r *Repository) UpsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, att_date, status, note, marked_by, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, course_id, att_date) DO UPDATE SET
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			marked_by = EXCLUDED.marked_by,
			session_id = EXCLUDED.session_id,
			updated_at = NOW()
		RETURNING id, updated_at
	`, rec.ID, rec.StudentID, rec.CourseID, rec.Date, rec.Status, rec.Note, rec.MarkedBy, rec.SessionID)
	if err := row.Scan(&rec.ID, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListRecords returns a course's records for one day.
func (r *Repository) ListRecords(ctx context.Context, courseID string, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, course_id, att_date, status, note, marked_by, session_id, updated_at
		FROM attendance_records
		WHERE course_id = $1 AND att_date = $2
		ORDER BY student_id
	`, courseID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date, &rec.Status, &rec.Note,
			&rec.MarkedBy, &rec.SessionID, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
