package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account kinds.
type Role int

const (
	RoleAdmin Role = iota + 1
	RoleStudent
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleStudent:
		return "Student"
	default:
		return "Unknown"
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleStudent }

// ParseRole accepts "admin"/"student" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "student":
		return RoleStudent, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is a login identity. StudentID is set only for student accounts.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
	StudentID    *int64 `json:"student_id,omitempty"`
}

// Student is a roster entry. Every student has exactly one paired User.
type Student struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	StudentNumber string    `json:"student_number"`
	Email         string    `json:"email"`
	PhotoRef      string    `json:"photo_url"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

type Course struct {
	ID         int64  `json:"id"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	Credits    int    `json:"credits"`
	Semester   string `json:"semester"`
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID        int64 `json:"id"`
	StudentID int64 `json:"student_id"`
	CourseID  int64 `json:"course_id"`
}

// EnrolledCourse is an enrollment with its course materialized.
type EnrolledCourse struct {
	EnrollmentID int64  `json:"enrollment_id"`
	Course       Course `json:"course"`
}

// Attendance is one presence row. Session placeholders opened by an admin
// have no StudentID; student check-ins always carry one.
type Attendance struct {
	ID             int64         `json:"id"`
	StudentID      *int64        `json:"student_id,omitempty"`
	CourseID       int64         `json:"course_id"`
	AttendanceDate time.Time     `json:"attendance_date"`
	ClassTime      time.Duration `json:"class_time"`
	IsPresent      bool          `json:"is_present"`
}

// IsSession reports whether the row is an admin session placeholder.
func (a Attendance) IsSession() bool { return a.StudentID == nil }

type attendanceJSON struct {
	ID             int64  `json:"id"`
	StudentID      *int64 `json:"student_id,omitempty"`
	CourseID       int64  `json:"course_id"`
	AttendanceDate string `json:"attendance_date"`
	ClassTime      string `json:"class_time"`
	IsPresent      bool   `json:"is_present"`
}

// MarshalJSON writes the date as YYYY-MM-DD and the class time as HH:MM:SS.
func (a Attendance) MarshalJSON() ([]byte, error) {
	return json.Marshal(attendanceJSON{
		ID:             a.ID,
		StudentID:      a.StudentID,
		CourseID:       a.CourseID,
		AttendanceDate: a.AttendanceDate.Format(time.DateOnly),
		ClassTime:      formatClock(a.ClassTime),
		IsPresent:      a.IsPresent,
	})
}

func (a *Attendance) UnmarshalJSON(b []byte) error {
	var raw attendanceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	date, err := time.Parse(time.DateOnly, raw.AttendanceDate)
	if err != nil {
		return fmt.Errorf("attendance_date: %w", err)
	}
	clock, err := time.Parse(time.TimeOnly, raw.ClassTime)
	if err != nil {
		return fmt.Errorf("class_time: %w", err)
	}
	*a = Attendance{
		ID:             raw.ID,
		StudentID:      raw.StudentID,
		CourseID:       raw.CourseID,
		AttendanceDate: date,
		ClassTime:      ClockOf(clock),
		IsPresent:      raw.IsPresent,
	}
	return nil
}

func formatClock(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Tally counts attendance rows for one course.
type Tally struct {
	CourseID int64
	Present  int
	Total    int
}

// CourseAttendance is one line of a student's course list.
type CourseAttendance struct {
	CourseID             int64   `json:"course_id"`
	CourseCode           string  `json:"course_code"`
	CourseName           string  `json:"course_name"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

type StudentDashboard struct {
	FullName          string   `json:"full_name"`
	ActiveCourses     int      `json:"active_courses"`
	AverageAttendance float64  `json:"average_attendance"`
	UpcomingClasses   []Course `json:"upcoming_classes"`
}

type AdminDashboard struct {
	TotalStudents        int `json:"total_students"`
	TotalCourses         int `json:"total_courses"`
	LowAttendanceCourses int `json:"low_attendance_courses"`
	NewStudents          int `json:"new_students"`
}

// Principal is the verified identity behind a request. It is built from a
// server-issued credential, never from request fields.
type Principal struct {
	Username  string
	Role      Role
	StudentID int64
}

// DateOf truncates t to its calendar day, expressed as midnight UTC so that
// dates compare equal regardless of the zone they were produced in.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClockOf returns the time-of-day component of t.
func ClockOf(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// percentage is present/total*100 with total clamped to at least one.
func percentage(present, total int) float64 {
	if total < 1 {
		total = 1
	}
	return float64(present) / float64(total) * 100
}
