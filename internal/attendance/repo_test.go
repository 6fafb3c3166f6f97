package attendance

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateConstraintViolations(t *testing.T) {
	unique := func(constraint string) error {
		return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraint}
	}

	tests := []struct {
		name     string
		err      error
		expected error
		kind     error
	}{
		{"username", unique("users_username_key"), ErrDuplicateUsername, ErrDuplicateKey},
		{"student number", unique("students_student_number_key"), ErrDuplicateStudentNumber, ErrDuplicateKey},
		{"course code", unique("courses_course_code_key"), ErrDuplicateCourseCode, ErrDuplicateKey},
		{"enrollment", unique("enrollments_student_course_key"), ErrAlreadyEnrolled, ErrAlreadyExists},
		{"session", unique("attendance_session_key"), ErrSessionAlreadyExists, ErrAlreadyExists},
		{"check-in", unique("attendance_checkin_key"), ErrAlreadyCheckedInToday, ErrAlreadyExists},
		{"wrapped", fmt.Errorf("insert course: %w", unique("courses_course_code_key")), ErrDuplicateCourseCode, ErrDuplicateKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err)
			assert.ErrorIs(t, got, tt.expected)
			assert.ErrorIs(t, got, tt.kind)
			assert.Equal(t, Message(tt.expected), Message(got))

			var pgErr *pgconn.PgError
			assert.True(t, errors.As(got, &pgErr), "driver error stays in the chain")
		})
	}
}

func TestTranslateUnknownConstraint(t *testing.T) {
	got := translate(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_student_id_key"})
	assert.ErrorIs(t, got, ErrDuplicateKey)
	assert.NotErrorIs(t, got, ErrDuplicateUsername)
	assert.Equal(t, "record already exists", Message(got))
}

func TestTranslateForeignKey(t *testing.T) {
	got := translate(&pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "enrollments_course_id_fkey"})
	assert.ErrorIs(t, got, ErrNotFound)
	assert.Equal(t, "referenced record not found", Message(got))
}

func TestTranslatePassesOtherErrorsThrough(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.Same(t, sql.ErrNoRows, translate(sql.ErrNoRows))

	other := &pgconn.PgError{Code: "40001"}
	got := translate(other)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(got, &pgErr))
	assert.Equal(t, "40001", pgErr.Code)
	assert.NotErrorIs(t, got, ErrDuplicateKey)
}

func TestTranslateCourseDelete(t *testing.T) {
	got := translateCourseDelete(&pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "attendance_course_id_fkey"})
	assert.ErrorIs(t, got, ErrCourseHasAttendance)
	assert.ErrorIs(t, got, ErrHasDependents)
	assert.NotErrorIs(t, got, ErrNotFound)

	got = translateCourseDelete(fmt.Errorf("delete course: %w", &pgconn.PgError{Code: pgForeignKeyViolation}))
	assert.ErrorIs(t, got, ErrCourseHasAttendance)

	assert.NoError(t, translateCourseDelete(nil))

	boom := errors.New("connection reset")
	assert.Same(t, boom, translateCourseDelete(boom))
}
