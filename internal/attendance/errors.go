package attendance

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrNotFound      = errors.New("not found")
	ErrNotEnrolled   = errors.New("not enrolled")
	ErrAlreadyExists = errors.New("already exists")
	ErrHasDependents = errors.New("has dependent records")
	ErrAuth          = errors.New("authentication failed")
	ErrForbidden     = errors.New("forbidden")
	ErrStorage       = errors.New("storage failure")
)

// Error carries the failing operation, its kind and a user-facing message.
type Error struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the kind, or another *Error describing the same failure.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Op == t.Op && e.Kind == t.Kind && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return false
}

// with returns a copy of e wrapping cause.
func (e *Error) with(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

func newError(op string, kind error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

func validationError(op, msg string) *Error {
	return newError(op, ErrValidation, msg)
}

// Message returns the user-facing text for err, hiding internal failures.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An error occurred. Please try again."
}

var (
	ErrInvalidCredentials = newError("auth.Authenticate", ErrAuth, "invalid username or password")
	ErrNotAdminAccount    = newError("auth.Authenticate", ErrAuth, "this account does not have admin privileges")
	ErrNotStudentAccount  = newError("auth.Authenticate", ErrAuth, "this account is not a student account")
	ErrInactiveAccount    = newError("auth.Authenticate", ErrAuth, "this account is inactive")
	ErrSessionInvalid     = newError("auth.Verify", ErrAuth, "please sign in again")
	ErrAdminRequired      = newError("auth.Authorize", ErrForbidden, "admin role required")
	ErrStudentRequired    = newError("auth.Authorize", ErrForbidden, "student role required")

	ErrUserNotFound      = newError("user.Find", ErrNotFound, "user account not found")
	ErrDuplicateUsername = newError("user.Create", ErrDuplicateKey, "this username is already registered")

	ErrStudentNotFound        = newError("student.Find", ErrNotFound, "student not found")
	ErrDuplicateStudentNumber = newError("student.Save", ErrDuplicateKey, "this student number is already registered")

	ErrCourseNotFound      = newError("course.Find", ErrNotFound, "course not found")
	ErrDuplicateCourseCode = newError("course.Save", ErrDuplicateKey, "this course code is already in use")
	ErrCourseHasAttendance = newError("course.Delete", ErrHasDependents, "course has attendance records and cannot be deleted")

	ErrAlreadyEnrolled     = newError("enrollment.Create", ErrAlreadyExists, "student is already enrolled in this course")
	ErrEnrollmentNotFound  = newError("enrollment.Delete", ErrNotFound, "enrollment not found")
	ErrNotEnrolledInCourse = newError("attendance.CheckIn", ErrNotEnrolled, "You are not enrolled in this course.")

	ErrSessionAlreadyExists  = newError("attendance.OpenSession", ErrAlreadyExists, "attendance has already been opened for this course on that date")
	ErrAlreadyCheckedInToday = newError("attendance.CheckIn", ErrAlreadyExists, "Your attendance for today has already been recorded.")

	ErrPhotoWrite = newError("photo.Save", ErrStorage, "photo could not be stored")
)
