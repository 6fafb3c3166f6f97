package attendance

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"classroll/internal/metrics"
	"classroll/internal/photo"
)

// PasswordHasher is the slow adaptive hash used for account passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// PhotoStore keeps uploaded student photos and hands back opaque references.
type PhotoStore interface {
	Save(ctx context.Context, r io.Reader, filename string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Photo is an uploaded image.
type Photo struct {
	Filename string
	Content  io.Reader
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	LowAttendanceThreshold float64
	NewStudentWindow       time.Duration
	Location               *time.Location
	Now                    func() time.Time
}

const upcomingLimit = 5

// Service implements roster management, attendance sessions, student
// check-in and dashboard statistics.
type Service struct {
	repo      Repository
	hasher    PasswordHasher
	photos    PhotoStore
	threshold float64
	window    time.Duration
	loc       *time.Location
	nowFunc   func() time.Time
}

// NewService creates a service backed by a repository. photos may be nil,
// in which case uploads are rejected and every student keeps the default avatar.
func NewService(repo Repository, hasher PasswordHasher, photos PhotoStore, opts Options) *Service {
	if opts.LowAttendanceThreshold <= 0 {
		opts.LowAttendanceThreshold = 70
	}
	if opts.NewStudentWindow <= 0 {
		opts.NewStudentWindow = 7 * 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:      repo,
		hasher:    hasher,
		photos:    photos,
		threshold: opts.LowAttendanceThreshold,
		window:    opts.NewStudentWindow,
		loc:       opts.Location,
		nowFunc:   opts.Now,
	}
}

func (s *Service) now() time.Time { return s.nowFunc().In(s.loc) }

// Location is the zone used to decide what "today" is.
func (s *Service) Location() *time.Location { return s.loc }

// Authorize is the role check applied to every scoped operation.
func Authorize(p Principal, required Role) error {
	switch required {
	case RoleAdmin:
		if p.Role != RoleAdmin {
			return ErrAdminRequired
		}
	case RoleStudent:
		if p.Role != RoleStudent || p.StudentID <= 0 {
			return ErrStudentRequired
		}
	default:
		return ErrForbidden
	}
	return nil
}

// -------- Identity --------

// Authenticate verifies a username/password pair for the claimed role.
func (s *Service) Authenticate(ctx context.Context, username, password string, claimed Role) (Principal, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return Principal{}, err
	}
	if u == nil || !s.hasher.Verify(password, u.PasswordHash) {
		return Principal{}, ErrInvalidCredentials
	}
	if u.Role != claimed {
		if claimed == RoleAdmin {
			return Principal{}, ErrNotAdminAccount
		}
		return Principal{}, ErrNotStudentAccount
	}
	p := Principal{Username: u.Username, Role: u.Role}
	if u.Role == RoleStudent {
		if u.StudentID == nil {
			return Principal{}, ErrInvalidCredentials
		}
		st, err := s.repo.GetStudent(ctx, *u.StudentID)
		if err != nil {
			return Principal{}, err
		}
		if st == nil {
			return Principal{}, ErrInvalidCredentials
		}
		if !st.IsActive {
			return Principal{}, ErrInactiveAccount
		}
		p.StudentID = st.ID
	}
	return p, nil
}

// EnsureAdmin creates an admin account when the username is free. It
// reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	in := AdminInput{Username: username, Password: password}
	if err := check("user.EnsureAdmin", in); err != nil {
		return false, err
	}
	existing, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil || existing != nil {
		return false, err
	}
	if _, err := s.createAdmin(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}

// AddAdmin creates another admin account.
func (s *Service) AddAdmin(ctx context.Context, p Principal, in AdminInput) (*User, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	if err := check("user.Create", in); err != nil {
		return nil, err
	}
	if taken, err := s.repo.UsernameExists(ctx, in.Username, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateUsername
	}
	return s.createAdmin(ctx, in)
}

func (s *Service) createAdmin(ctx context.Context, in AdminInput) (*User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &User{Username: in.Username, PasswordHash: hash, Role: RoleAdmin}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.Printf("admin %q created", u.Username)
	return u, nil
}

// -------- Students --------

func (s *Service) ListStudents(ctx context.Context, p Principal) ([]Student, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListStudents(ctx)
}

func (s *Service) GetStudent(ctx context.Context, p Principal, id int64) (*Student, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	return s.findStudent(ctx, id)
}

func (s *Service) findStudent(ctx context.Context, id int64) (*Student, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrStudentNotFound
	}
	return st, nil
}

// AddStudent creates a student together with its login account. The photo is
// written first and only referenced once both rows have committed.
func (s *Service) AddStudent(ctx context.Context, p Principal, in StudentInput, ph *Photo) (*Student, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	in.normalize()
	if err := check("student.Create", in); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, validationError("student.Create", "please fill in all required fields")
	}
	if taken, err := s.repo.StudentNumberExists(ctx, in.StudentNumber, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateStudentNumber
	}
	if taken, err := s.repo.UsernameExists(ctx, in.StudentNumber, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateUsername
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	ref := photo.DefaultAvatar
	if ph != nil {
		if ref, err = s.savePhoto(ctx, ph); err != nil {
			return nil, err
		}
	}

	st := &Student{
		FullName:      in.FullName,
		StudentNumber: in.StudentNumber,
		Email:         in.Email,
		PhotoRef:      ref,
		IsActive:      activeOr(in.IsActive, true),
		CreatedAt:     s.nowFunc().UTC(),
	}
	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.CreateStudent(ctx, st); err != nil {
			return err
		}
		sid := st.ID
		return tx.CreateUser(ctx, &User{
			Username:     st.StudentNumber,
			PasswordHash: hash,
			Role:         RoleStudent,
			StudentID:    &sid,
		})
	})
	if err != nil {
		s.releasePhoto(ctx, ref)
		return nil, err
	}
	log.Printf("student %d (%s) created", st.ID, st.StudentNumber)
	return st, nil
}

// EditStudent updates the student and keeps the paired username in step with
// the student number. An empty password leaves the current hash in place.
func (s *Service) EditStudent(ctx context.Context, p Principal, id int64, in StudentInput, ph *Photo) (*Student, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	st, err := s.findStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	in.normalize()
	if err := check("student.Update", in); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUserByStudentID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if in.StudentNumber != st.StudentNumber {
		if taken, err := s.repo.StudentNumberExists(ctx, in.StudentNumber, id); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrDuplicateStudentNumber
		}
		if taken, err := s.repo.UsernameExists(ctx, in.StudentNumber, u.ID); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrDuplicateUsername
		}
	}
	if in.Password != "" {
		if u.PasswordHash, err = s.hasher.Hash(in.Password); err != nil {
			return nil, err
		}
	}

	var newRef string
	if ph != nil {
		if newRef, err = s.savePhoto(ctx, ph); err != nil {
			return nil, err
		}
	}

	updated := *st
	updated.FullName = in.FullName
	updated.StudentNumber = in.StudentNumber
	updated.Email = in.Email
	updated.IsActive = activeOr(in.IsActive, st.IsActive)
	if newRef != "" {
		updated.PhotoRef = newRef
	}
	u.Username = in.StudentNumber

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.UpdateStudent(ctx, &updated); err != nil {
			return err
		}
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		s.releasePhoto(ctx, newRef)
		return nil, err
	}
	if newRef != "" {
		s.releasePhoto(ctx, st.PhotoRef)
	}
	log.Printf("student %d updated", id)
	return &updated, nil
}

// DeleteStudent removes the student and its account. Enrollments and
// attendance rows go with it through the store's cascade.
func (s *Service) DeleteStudent(ctx context.Context, p Principal, id int64) error {
	if err := Authorize(p, RoleAdmin); err != nil {
		return err
	}
	st, err := s.findStudent(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.InTx(ctx, func(tx Repository) error {
		u, err := tx.GetUserByStudentID(ctx, id)
		if err != nil {
			return err
		}
		if u != nil {
			if err := tx.DeleteUser(ctx, u.ID); err != nil {
				return err
			}
		}
		return tx.DeleteStudent(ctx, id)
	})
	if err != nil {
		return err
	}
	s.releasePhoto(ctx, st.PhotoRef)
	log.Printf("student %d deleted", id)
	return nil
}

func activeOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func (s *Service) SetStudentActive(ctx context.Context, p Principal, id int64, active bool) error {
	if err := Authorize(p, RoleAdmin); err != nil {
		return err
	}
	found, err := s.repo.SetStudentActive(ctx, id, active)
	if err != nil {
		return err
	}
	if !found {
		return ErrStudentNotFound
	}
	return nil
}

func (s *Service) savePhoto(ctx context.Context, ph *Photo) (string, error) {
	if s.photos == nil {
		return "", ErrPhotoWrite.with(errors.New("photo storage not configured"))
	}
	ref, err := s.photos.Save(ctx, ph.Content, ph.Filename)
	if err != nil {
		return "", ErrPhotoWrite.with(err)
	}
	return ref, nil
}

// releasePhoto asks the photo store to drop ref. Failures are logged only:
// the rows that referenced it are already gone.
func (s *Service) releasePhoto(ctx context.Context, ref string) {
	if s.photos == nil || ref == "" || ref == photo.DefaultAvatar {
		return
	}
	if err := s.photos.Delete(ctx, ref); err != nil {
		log.Printf("release photo %s failed: %v", ref, err)
	}
}

// -------- Courses --------

func (s *Service) ListCourses(ctx context.Context, p Principal) ([]Course, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListCourses(ctx)
}

func (s *Service) GetCourse(ctx context.Context, p Principal, id int64) (*Course, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	return s.findCourse(ctx, id)
}

func (s *Service) findCourse(ctx context.Context, id int64) (*Course, error) {
	c, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCourseNotFound
	}
	return c, nil
}

func (s *Service) AddCourse(ctx context.Context, p Principal, in CourseInput) (*Course, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	in.normalize()
	if err := check("course.Create", in); err != nil {
		return nil, err
	}
	if taken, err := s.repo.CourseCodeExists(ctx, in.CourseCode, 0); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateCourseCode
	}
	c := &Course{CourseCode: in.CourseCode, CourseName: in.CourseName, Credits: in.Credits, Semester: in.Semester}
	if err := s.repo.CreateCourse(ctx, c); err != nil {
		return nil, err
	}
	log.Printf("course %d (%s) created", c.ID, c.CourseCode)
	return c, nil
}

func (s *Service) EditCourse(ctx context.Context, p Principal, id int64, in CourseInput) (*Course, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	c, err := s.findCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	in.normalize()
	if err := check("course.Update", in); err != nil {
		return nil, err
	}
	if taken, err := s.repo.CourseCodeExists(ctx, in.CourseCode, id); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrDuplicateCourseCode
	}
	c.CourseCode, c.CourseName, c.Credits, c.Semester = in.CourseCode, in.CourseName, in.Credits, in.Semester
	if err := s.repo.UpdateCourse(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCourse refuses to remove a course that has attendance rows; otherwise
// its enrollments are removed first, then the course.
func (s *Service) DeleteCourse(ctx context.Context, p Principal, id int64) error {
	if err := Authorize(p, RoleAdmin); err != nil {
		return err
	}
	if _, err := s.findCourse(ctx, id); err != nil {
		return err
	}
	if has, err := s.repo.CourseHasAttendance(ctx, id); err != nil {
		return err
	} else if has {
		return ErrCourseHasAttendance
	}
	err := s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.DeleteCourseEnrollments(ctx, id); err != nil {
			return err
		}
		return tx.DeleteCourse(ctx, id)
	})
	if err != nil {
		return err
	}
	log.Printf("course %d deleted", id)
	return nil
}

// -------- Enrollments --------

func (s *Service) Enroll(ctx context.Context, p Principal, studentID, courseID int64) (*Enrollment, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.findStudent(ctx, studentID); err != nil {
		return nil, err
	}
	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if ok, err := s.repo.EnrollmentExists(ctx, studentID, courseID); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyEnrolled
	}
	e := &Enrollment{StudentID: studentID, CourseID: courseID}
	if err := s.repo.CreateEnrollment(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Unenroll(ctx context.Context, p Principal, studentID, courseID int64) error {
	if err := Authorize(p, RoleAdmin); err != nil {
		return err
	}
	found, err := s.repo.DeleteEnrollment(ctx, studentID, courseID)
	if err != nil {
		return err
	}
	if !found {
		return ErrEnrollmentNotFound
	}
	return nil
}

func (s *Service) CourseRoster(ctx context.Context, p Principal, courseID int64) ([]Student, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.repo.ListCourseRoster(ctx, courseID)
}

// -------- Attendance --------

// OpenSession records an absent placeholder for the course on the calendar
// day of at. Only one session may exist per course and day.
func (s *Service) OpenSession(ctx context.Context, p Principal, courseID int64, at time.Time) (*Attendance, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, err
	}
	if exists, err := s.repo.CourseDateHasAttendance(ctx, courseID, at); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrSessionAlreadyExists
	}
	a := &Attendance{
		CourseID:       courseID,
		AttendanceDate: DateOf(at),
		ClassTime:      ClockOf(at),
		IsPresent:      false,
	}
	if err := s.repo.CreateAttendance(ctx, a); err != nil {
		return nil, err
	}
	log.Printf("attendance session opened for course %d on %s", courseID, a.AttendanceDate.Format("2006-01-02"))
	return a, nil
}

func (s *Service) CourseAttendance(ctx context.Context, p Principal, courseID int64) ([]Attendance, error) {
	if err := Authorize(p, RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.findCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.repo.ListCourseAttendance(ctx, courseID)
}

// CheckInResult is the envelope returned to a student after a check-in.
type CheckInResult struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Attendance *Attendance `json:"attendance,omitempty"`
	Err        error       `json:"-"`
}

const checkInSucceeded = "Your attendance has been recorded successfully."

// CheckIn marks the calling student present in courseID for today. Failures
// are reported in the result, never returned.
func (s *Service) CheckIn(ctx context.Context, p Principal, courseID int64) CheckInResult {
	a, err := s.checkIn(ctx, p, courseID)
	if err != nil {
		var de *Error
		if !errors.As(err, &de) {
			log.Printf("checkin student %d course %d failed: %v", p.StudentID, courseID, err)
		}
		metrics.CheckIns.WithLabelValues(checkInOutcome(err)).Inc()
		return CheckInResult{Message: Message(err), Err: err}
	}
	metrics.CheckIns.WithLabelValues("ok").Inc()
	return CheckInResult{Success: true, Message: checkInSucceeded, Attendance: a}
}

func (s *Service) checkIn(ctx context.Context, p Principal, courseID int64) (*Attendance, error) {
	if err := Authorize(p, RoleStudent); err != nil {
		return nil, err
	}
	enrolled, err := s.repo.EnrollmentExists(ctx, p.StudentID, courseID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, ErrNotEnrolledInCourse
	}
	now := s.now()
	today := DateOf(now)
	if exists, err := s.repo.CheckInExists(ctx, p.StudentID, courseID, today); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyCheckedInToday
	}
	sid := p.StudentID
	a := &Attendance{
		StudentID:      &sid,
		CourseID:       courseID,
		AttendanceDate: today,
		ClassTime:      ClockOf(now),
		IsPresent:      true,
	}
	if err := s.repo.CreateAttendance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func checkInOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrAlreadyExists):
		return "duplicate"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

// -------- Student self-service --------

// MyCourses lists the caller's enrolled courses with their attendance rate.
func (s *Service) MyCourses(ctx context.Context, p Principal) ([]CourseAttendance, error) {
	if err := Authorize(p, RoleStudent); err != nil {
		return nil, err
	}
	enrolled, err := s.repo.ListStudentEnrollments(ctx, p.StudentID, 0)
	if err != nil {
		return nil, err
	}
	tallies, err := s.repo.StudentTallies(ctx, p.StudentID)
	if err != nil {
		return nil, err
	}
	byCourse := make(map[int64]Tally, len(tallies))
	for _, t := range tallies {
		byCourse[t.CourseID] = t
	}
	res := make([]CourseAttendance, 0, len(enrolled))
	for _, ec := range enrolled {
		t := byCourse[ec.Course.ID]
		res = append(res, CourseAttendance{
			CourseID:             ec.Course.ID,
			CourseCode:           ec.Course.CourseCode,
			CourseName:           ec.Course.CourseName,
			AttendancePercentage: percentage(t.Present, t.Total),
		})
	}
	return res, nil
}

// TodayCourses lists the courses the caller can check in to.
func (s *Service) TodayCourses(ctx context.Context, p Principal) ([]Course, error) {
	if err := Authorize(p, RoleStudent); err != nil {
		return nil, err
	}
	enrolled, err := s.repo.ListStudentEnrollments(ctx, p.StudentID, 0)
	if err != nil {
		return nil, err
	}
	res := make([]Course, 0, len(enrolled))
	for _, ec := range enrolled {
		res = append(res, ec.Course)
	}
	return res, nil
}

func (s *Service) Profile(ctx context.Context, p Principal) (*Student, error) {
	if err := Authorize(p, RoleStudent); err != nil {
		return nil, err
	}
	return s.findStudent(ctx, p.StudentID)
}
