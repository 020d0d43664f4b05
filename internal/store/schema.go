package store

import "context"

// schema is applied at startup. Uniqueness of one attendance record per
// (student, course, date) lives here as a constraint, not in application code.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL CHECK (role IN ('admin', 'lecturer', 'student')),
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
	id         TEXT PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	owner_id   TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS enrollments (
	course_id  TEXT NOT NULL REFERENCES courses(id),
	student_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (course_id, student_id)
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id           TEXT PRIMARY KEY,
	course_id    TEXT NOT NULL REFERENCES courses(id),
	created_by   TEXT NOT NULL REFERENCES users(id),
	title        TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT 'active' CHECK (state IN ('active', 'expired', 'cancelled')),
	payload      TEXT NOT NULL,
	scan_count   INTEGER NOT NULL DEFAULT 0,
	last_scan_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_course_state ON attendance_sessions (course_id, state);

CREATE TABLE IF NOT EXISTS attendance_records (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES users(id),
	course_id  TEXT NOT NULL REFERENCES courses(id),
	att_date   DATE NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('present', 'absent', 'late', 'excused')),
	note       TEXT NOT NULL DEFAULT '',
	marked_by  TEXT NOT NULL,
	session_id TEXT REFERENCES attendance_sessions(id),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (student_id, course_id, att_date)
);
`

// Migrate applies the schema. Safe to run on every boot.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}
