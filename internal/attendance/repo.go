package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository persists the roster and ledgers in Postgres.
type PostgresRepository struct {
	db *sql.DB
	q  querier
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, q: db}
}

// InTx runs fn inside a single database transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.q.(*sql.Tx); ok {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresRepository{db: r.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps constraint violations onto the named domain errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "users_username_key":
			return ErrDuplicateUsername.with(err)
		case "students_student_number_key":
			return ErrDuplicateStudentNumber.with(err)
		case "courses_course_code_key":
			return ErrDuplicateCourseCode.with(err)
		case "enrollments_student_course_key":
			return ErrAlreadyEnrolled.with(err)
		case "attendance_session_key":
			return ErrSessionAlreadyExists.with(err)
		case "attendance_checkin_key":
			return ErrAlreadyCheckedInToday.with(err)
		}
		return newError("store.Write", ErrDuplicateKey, "record already exists").with(err)
	case pgForeignKeyViolation:
		return newError("store.Write", ErrNotFound, "referenced record not found").with(err)
	}
	return err
}

func dateParam(t time.Time) string { return DateOf(t).Format("2006-01-02") }

// -------- Users --------

const userColumns = `id, username, password_hash, role, student_id`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u    User
		role int
		sid  sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &sid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = Role(role)
	if sid.Valid {
		id := sid.Int64
		u.StudentID = &id
	}
	return &u, nil
}

// CreateUser inserts a user and sets its id.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, student_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, u.Username, u.PasswordHash, int(u.Role), u.StudentID)
	if err := row.Scan(&u.ID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *PostgresRepository) GetUserByStudentID(ctx context.Context, studentID int64) (*User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE student_id = $1`, studentID))
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, u *User) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE users SET username = $2, password_hash = $3
		WHERE id = $1
	`, u.ID, u.Username, u.PasswordHash)
	return translate(err)
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND id <> $2)`, username, excludeID)
}

func (r *PostgresRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *PostgresRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// -------- Students --------

const studentColumns = `id, full_name, student_number, email, photo_ref, is_active, created_at`

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.FullName, &s.StudentNumber, &s.Email, &s.PhotoRef, &s.IsActive, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateStudent(ctx context.Context, s *Student) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO students (full_name, student_number, email, photo_ref, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.FullName, s.StudentNumber, s.Email, s.PhotoRef, s.IsActive, s.CreatedAt)
	if err := row.Scan(&s.ID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *PostgresRepository) GetStudent(ctx context.Context, id int64) (*Student, error) {
	return scanStudent(r.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

func (r *PostgresRepository) ListStudents(ctx context.Context) ([]Student, error) {
	return r.queryStudents(ctx, `SELECT `+studentColumns+` FROM students ORDER BY id`)
}

func (r *PostgresRepository) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) UpdateStudent(ctx context.Context, s *Student) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE students
		SET full_name = $2, student_number = $3, email = $4, photo_ref = $5, is_active = $6
		WHERE id = $1
	`, s.ID, s.FullName, s.StudentNumber, s.Email, s.PhotoRef, s.IsActive)
	return translate(err)
}

func (r *PostgresRepository) SetStudentActive(ctx context.Context, id int64, active bool) (bool, error) {
	res, err := r.q.ExecContext(ctx, `UPDATE students SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteStudent removes the student; enrollments and attendance cascade.
func (r *PostgresRepository) DeleteStudent(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) StudentNumberExists(ctx context.Context, number string, excludeID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE student_number = $1 AND id <> $2)`, number, excludeID)
}

func (r *PostgresRepository) CountStudents(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM students`)
}

func (r *PostgresRepository) CountStudentsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM students WHERE created_at >= $1`, since)
}

// -------- Courses --------

const courseColumns = `id, course_code, course_name, credits, semester`

func scanCourse(row interface{ Scan(...any) error }) (*Course, error) {
	var c Course
	if err := row.Scan(&c.ID, &c.CourseCode, &c.CourseName, &c.Credits, &c.Semester); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreateCourse(ctx context.Context, c *Course) error {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO courses (course_code, course_name, credits, semester)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.CourseCode, c.CourseName, c.Credits, c.Semester)
	if err := row.Scan(&c.ID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *PostgresRepository) GetCourse(ctx context.Context, id int64) (*Course, error) {
	return scanCourse(r.q.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
}

func (r *PostgresRepository) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) UpdateCourse(ctx context.Context, c *Course) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE courses SET course_code = $2, course_name = $3, credits = $4, semester = $5
		WHERE id = $1
	`, c.ID, c.CourseCode, c.CourseName, c.Credits, c.Semester)
	return translate(err)
}

// DeleteCourse removes the course. Attendance references it with ON DELETE
// RESTRICT, so a row that appeared after the service's check still blocks.
func (r *PostgresRepository) DeleteCourse(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	return translateCourseDelete(err)
}

// translateCourseDelete reports the attendance foreign key as a blocked delete.
func translateCourseDelete(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrCourseHasAttendance.with(err)
	}
	return translate(err)
}

func (r *PostgresRepository) CourseCodeExists(ctx context.Context, code string, excludeID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE course_code = $1 AND id <> $2)`, code, excludeID)
}

func (r *PostgresRepository) CountCourses(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM courses`)
}

// -------- Enrollments --------

func (r *PostgresRepository) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, course_id)
		VALUES ($1, $2)
		RETURNING id
	`, e.StudentID, e.CourseID)
	if err := row.Scan(&e.ID); err != nil {
		return translate(err)
	}
	return nil
}

func (r *PostgresRepository) EnrollmentExists(ctx context.Context, studentID, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`, studentID, courseID)
}

func (r *PostgresRepository) DeleteEnrollment(ctx context.Context, studentID, courseID int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) DeleteCourseEnrollments(ctx context.Context, courseID int64) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM enrollments WHERE course_id = $1`, courseID)
	return err
}

func (r *PostgresRepository) ListStudentEnrollments(ctx context.Context, studentID int64, limit int) ([]EnrolledCourse, error) {
	query := `
		SELECT e.id, c.id, c.course_code, c.course_name, c.credits, c.semester
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.student_id = $1
		ORDER BY e.id`
	args := []any{studentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EnrolledCourse
	for rows.Next() {
		var ec EnrolledCourse
		c := &ec.Course
		if err := rows.Scan(&ec.EnrollmentID, &c.ID, &c.CourseCode, &c.CourseName, &c.Credits, &c.Semester); err != nil {
			return nil, err
		}
		res = append(res, ec)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) ListCourseRoster(ctx context.Context, courseID int64) ([]Student, error) {
	return r.queryStudents(ctx, `
		SELECT s.id, s.full_name, s.student_number, s.email, s.photo_ref, s.is_active, s.created_at
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY s.id
	`, courseID)
}

// -------- Attendance --------

func (r *PostgresRepository) CreateAttendance(ctx context.Context, a *Attendance) error {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, course_id, attendance_date, class_time, is_present)
		VALUES ($1, $2, $3::date, $4::time, $5)
		RETURNING id
	`, a.StudentID, a.CourseID, dateParam(a.AttendanceDate), formatClock(a.ClassTime), a.IsPresent)
	if err := row.Scan(&a.ID); err != nil {
		return translate(err)
	}
	a.AttendanceDate = DateOf(a.AttendanceDate)
	return nil
}

func (r *PostgresRepository) CourseDateHasAttendance(ctx context.Context, courseID int64, date time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE course_id = $1 AND attendance_date = $2::date)
	`, courseID, dateParam(date))
}

func (r *PostgresRepository) CheckInExists(ctx context.Context, studentID, courseID int64, date time.Time) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance
			WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3::date
		)
	`, studentID, courseID, dateParam(date))
}

func (r *PostgresRepository) CourseHasAttendance(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM attendance WHERE course_id = $1)`, courseID)
}

func (r *PostgresRepository) ListCourseAttendance(ctx context.Context, courseID int64) ([]Attendance, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, student_id, course_id, attendance_date,
		       EXTRACT(EPOCH FROM class_time)::bigint, is_present
		FROM attendance
		WHERE course_id = $1
		ORDER BY attendance_date DESC, id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attendance
	for rows.Next() {
		var (
			a    Attendance
			sid  sql.NullInt64
			secs int64
		)
		if err := rows.Scan(&a.ID, &sid, &a.CourseID, &a.AttendanceDate, &secs, &a.IsPresent); err != nil {
			return nil, err
		}
		if sid.Valid {
			id := sid.Int64
			a.StudentID = &id
		}
		a.AttendanceDate = DateOf(a.AttendanceDate)
		a.ClassTime = time.Duration(secs) * time.Second
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) CourseTallies(ctx context.Context) ([]Tally, error) {
	return r.tallies(ctx, `
		SELECT course_id, COUNT(*) FILTER (WHERE is_present), COUNT(*)
		FROM attendance
		GROUP BY course_id
		ORDER BY course_id
	`)
}

func (r *PostgresRepository) StudentTallies(ctx context.Context, studentID int64) ([]Tally, error) {
	return r.tallies(ctx, `
		SELECT course_id, COUNT(*) FILTER (WHERE is_present), COUNT(*)
		FROM attendance
		WHERE student_id = $1
		GROUP BY course_id
		ORDER BY course_id
	`, studentID)
}

func (r *PostgresRepository) tallies(ctx context.Context, query string, args ...any) ([]Tally, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Tally
	for rows.Next() {
		var t Tally
		if err := rows.Scan(&t.CourseID, &t.Present, &t.Total); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
