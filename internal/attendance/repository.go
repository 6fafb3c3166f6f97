package attendance

import (
	"context"
	"time"
)

// Repository is the relational store behind the service. Lookups return
// (nil, nil) when the row does not exist. Writes that collide with a unique
// or foreign key constraint return the matching named error from errors.go.
type Repository interface {
	// InTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repository) error) error

	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByStudentID(ctx context.Context, studentID int64) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error
	UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error)

	CreateStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, id int64) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudent(ctx context.Context, s *Student) error
	SetStudentActive(ctx context.Context, id int64, active bool) (bool, error)
	DeleteStudent(ctx context.Context, id int64) error
	StudentNumberExists(ctx context.Context, number string, excludeID int64) (bool, error)
	CountStudents(ctx context.Context) (int, error)
	CountStudentsCreatedSince(ctx context.Context, since time.Time) (int, error)

	CreateCourse(ctx context.Context, c *Course) error
	GetCourse(ctx context.Context, id int64) (*Course, error)
	ListCourses(ctx context.Context) ([]Course, error)
	UpdateCourse(ctx context.Context, c *Course) error
	DeleteCourse(ctx context.Context, id int64) error
	CourseCodeExists(ctx context.Context, code string, excludeID int64) (bool, error)
	CountCourses(ctx context.Context) (int, error)

	CreateEnrollment(ctx context.Context, e *Enrollment) error
	EnrollmentExists(ctx context.Context, studentID, courseID int64) (bool, error)
	DeleteEnrollment(ctx context.Context, studentID, courseID int64) (bool, error)
	DeleteCourseEnrollments(ctx context.Context, courseID int64) error
	// ListStudentEnrollments returns enrollments in insertion order; limit <= 0 means all.
	ListStudentEnrollments(ctx context.Context, studentID int64, limit int) ([]EnrolledCourse, error)
	ListCourseRoster(ctx context.Context, courseID int64) ([]Student, error)

	CreateAttendance(ctx context.Context, a *Attendance) error
	// CourseDateHasAttendance reports whether any row exists for the course on date.
	CourseDateHasAttendance(ctx context.Context, courseID int64, date time.Time) (bool, error)
	CheckInExists(ctx context.Context, studentID, courseID int64, date time.Time) (bool, error)
	CourseHasAttendance(ctx context.Context, courseID int64) (bool, error)
	ListCourseAttendance(ctx context.Context, courseID int64) ([]Attendance, error)
	// CourseTallies returns one tally per course with at least one attendance row.
	CourseTallies(ctx context.Context) ([]Tally, error)
	// StudentTallies returns one tally per course the student has rows for.
	StudentTallies(ctx context.Context, studentID int64) ([]Tally, error)
}
