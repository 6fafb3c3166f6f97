package store

import (
	"context"
	"fmt"
)

// schema is applied idempotently on startup. Constraint and index names are
// matched by the repository when translating unique violations.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id             BIGSERIAL PRIMARY KEY,
		full_name      VARCHAR(100) NOT NULL,
		student_number VARCHAR(20)  NOT NULL,
		email          VARCHAR(100) NOT NULL,
		photo_ref      TEXT         NOT NULL DEFAULT '/images/default-avatar.png',
		is_active      BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
		CONSTRAINT students_student_number_key UNIQUE (student_number)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      VARCHAR(100) NOT NULL,
		password_hash TEXT         NOT NULL,
		role          SMALLINT     NOT NULL CHECK (role IN (1, 2)),
		student_id    BIGINT REFERENCES students(id) ON DELETE CASCADE,
		CONSTRAINT users_username_key UNIQUE (username),
		CONSTRAINT users_student_id_key UNIQUE (student_id),
		CONSTRAINT users_role_student_check CHECK ((role = 2) = (student_id IS NOT NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id          BIGSERIAL PRIMARY KEY,
		course_code VARCHAR(10)  NOT NULL,
		course_name VARCHAR(100) NOT NULL,
		credits     INTEGER      NOT NULL CHECK (credits > 0),
		semester    VARCHAR(20)  NOT NULL,
		CONSTRAINT courses_course_code_key UNIQUE (course_code)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id         BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		course_id  BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		CONSTRAINT enrollments_student_course_key UNIQUE (student_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id              BIGSERIAL PRIMARY KEY,
		student_id      BIGINT REFERENCES students(id) ON DELETE CASCADE,
		course_id       BIGINT NOT NULL REFERENCES courses(id) ON DELETE RESTRICT,
		attendance_date DATE    NOT NULL,
		class_time      TIME    NOT NULL,
		is_present      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_session_key
		ON attendance (course_id, attendance_date) WHERE student_id IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_checkin_key
		ON attendance (student_id, course_id, attendance_date) WHERE student_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS enrollments_course_idx ON enrollments (course_id)`,
	`CREATE INDEX IF NOT EXISTS attendance_course_idx ON attendance (course_id)`,
	`CREATE INDEX IF NOT EXISTS students_created_at_idx ON students (created_at)`,
}

// Migrate creates the tables and indexes the repository expects.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
