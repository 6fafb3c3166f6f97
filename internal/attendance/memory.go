package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository for development and tests.
// It enforces the same unique and foreign key rules as the Postgres schema.
type MemoryRepository struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data memData
	now  func() time.Time
	inTx bool
}

type memData struct {
	seq         int64
	users       map[int64]User
	students    map[int64]Student
	courses     map[int64]Course
	enrollments map[int64]Enrollment
	attendance  map[int64]Attendance
}

func (d memData) clone() memData {
	c := memData{
		seq:         d.seq,
		users:       make(map[int64]User, len(d.users)),
		students:    make(map[int64]Student, len(d.students)),
		courses:     make(map[int64]Course, len(d.courses)),
		enrollments: make(map[int64]Enrollment, len(d.enrollments)),
		attendance:  make(map[int64]Attendance, len(d.attendance)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.students {
		c.students[k] = v
	}
	for k, v := range d.courses {
		c.courses[k] = v
	}
	for k, v := range d.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range d.attendance {
		c.attendance[k] = v
	}
	return c
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: memData{}.clone(), now: time.Now}
}

// InTx runs fn against a private copy of the data and publishes it only when
// fn succeeds. Writes outside the transaction wait until it finishes, so a
// rollback never discards them. Reads see the last committed state.
func (r *MemoryRepository) InTx(_ context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	tx := &MemoryRepository{data: r.data.clone(), now: r.now, inTx: true}
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	r.mu.Lock()
	r.data = tx.data
	r.mu.Unlock()
	return nil
}

// lock takes the write lock after any open transaction has finished.
func (r *MemoryRepository) lock() (unlock func()) {
	r.txMu.Lock()
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		r.txMu.Unlock()
	}
}

func (r *MemoryRepository) nextID() int64 {
	r.data.seq++
	return r.data.seq
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// -------- Users --------

func (r *MemoryRepository) CreateUser(_ context.Context, u *User) error {
	defer r.lock()()

	for _, existing := range r.data.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
		if u.StudentID != nil && existing.StudentID != nil && *existing.StudentID == *u.StudentID {
			return newError("user.Create", ErrDuplicateKey, "student already has an account")
		}
	}
	if u.StudentID != nil {
		if _, ok := r.data.students[*u.StudentID]; !ok {
			return ErrStudentNotFound
		}
	}
	u.ID = r.nextID()
	r.data.users[u.ID] = copyUser(*u)
	return nil
}

func copyUser(u User) User {
	if u.StudentID != nil {
		id := *u.StudentID
		u.StudentID = &id
	}
	return u
}

func (r *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.data.users {
		if u.Username == username {
			c := copyUser(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetUserByStudentID(_ context.Context, studentID int64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.data.users {
		if u.StudentID != nil && *u.StudentID == studentID {
			c := copyUser(u)
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, u *User) error {
	defer r.lock()()
	orig, ok := r.data.users[u.ID]
	if !ok {
		return nil
	}
	for id, existing := range r.data.users {
		if id != u.ID && existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	orig.Username = u.Username
	orig.PasswordHash = u.PasswordHash
	r.data.users[u.ID] = orig
	return nil
}

func (r *MemoryRepository) DeleteUser(_ context.Context, id int64) error {
	defer r.lock()()
	delete(r.data.users, id)
	return nil
}

func (r *MemoryRepository) UsernameExists(_ context.Context, username string, excludeID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, u := range r.data.users {
		if id != excludeID && u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// -------- Students --------

func (r *MemoryRepository) CreateStudent(_ context.Context, s *Student) error {
	defer r.lock()()
	for _, existing := range r.data.students {
		if existing.StudentNumber == s.StudentNumber {
			return ErrDuplicateStudentNumber
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	s.ID = r.nextID()
	r.data.students[s.ID] = *s
	return nil
}

func (r *MemoryRepository) GetStudent(_ context.Context, id int64) (*Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.data.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListStudents(_ context.Context) ([]Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Student
	for _, id := range sortedKeys(r.data.students) {
		res = append(res, r.data.students[id])
	}
	return res, nil
}

func (r *MemoryRepository) UpdateStudent(_ context.Context, s *Student) error {
	defer r.lock()()
	orig, ok := r.data.students[s.ID]
	if !ok {
		return nil
	}
	for id, existing := range r.data.students {
		if id != s.ID && existing.StudentNumber == s.StudentNumber {
			return ErrDuplicateStudentNumber
		}
	}
	s.CreatedAt = orig.CreatedAt
	r.data.students[s.ID] = *s
	return nil
}

func (r *MemoryRepository) SetStudentActive(_ context.Context, id int64, active bool) (bool, error) {
	defer r.lock()()
	s, ok := r.data.students[id]
	if !ok {
		return false, nil
	}
	s.IsActive = active
	r.data.students[id] = s
	return true, nil
}

// DeleteStudent removes the student and cascades to its account,
// enrollments and attendance rows.
func (r *MemoryRepository) DeleteStudent(_ context.Context, id int64) error {
	defer r.lock()()
	delete(r.data.students, id)
	for uid, u := range r.data.users {
		if u.StudentID != nil && *u.StudentID == id {
			delete(r.data.users, uid)
		}
	}
	for eid, e := range r.data.enrollments {
		if e.StudentID == id {
			delete(r.data.enrollments, eid)
		}
	}
	for aid, a := range r.data.attendance {
		if a.StudentID != nil && *a.StudentID == id {
			delete(r.data.attendance, aid)
		}
	}
	return nil
}

func (r *MemoryRepository) StudentNumberExists(_ context.Context, number string, excludeID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.data.students {
		if id != excludeID && s.StudentNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountStudents(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data.students), nil
}

func (r *MemoryRepository) CountStudentsCreatedSince(_ context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.data.students {
		if !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// -------- Courses --------

func (r *MemoryRepository) CreateCourse(_ context.Context, c *Course) error {
	defer r.lock()()
	for _, existing := range r.data.courses {
		if existing.CourseCode == c.CourseCode {
			return ErrDuplicateCourseCode
		}
	}
	c.ID = r.nextID()
	r.data.courses[c.ID] = *c
	return nil
}

func (r *MemoryRepository) GetCourse(_ context.Context, id int64) (*Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.data.courses[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListCourses(_ context.Context) ([]Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Course
	for _, id := range sortedKeys(r.data.courses) {
		res = append(res, r.data.courses[id])
	}
	return res, nil
}

func (r *MemoryRepository) UpdateCourse(_ context.Context, c *Course) error {
	defer r.lock()()
	if _, ok := r.data.courses[c.ID]; !ok {
		return nil
	}
	for id, existing := range r.data.courses {
		if id != c.ID && existing.CourseCode == c.CourseCode {
			return ErrDuplicateCourseCode
		}
	}
	r.data.courses[c.ID] = *c
	return nil
}

func (r *MemoryRepository) DeleteCourse(_ context.Context, id int64) error {
	defer r.lock()()
	for _, a := range r.data.attendance {
		if a.CourseID == id {
			return ErrCourseHasAttendance
		}
	}
	delete(r.data.courses, id)
	for eid, e := range r.data.enrollments {
		if e.CourseID == id {
			delete(r.data.enrollments, eid)
		}
	}
	return nil
}

func (r *MemoryRepository) CourseCodeExists(_ context.Context, code string, excludeID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.data.courses {
		if id != excludeID && c.CourseCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CountCourses(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data.courses), nil
}

// -------- Enrollments --------

func (r *MemoryRepository) CreateEnrollment(_ context.Context, e *Enrollment) error {
	defer r.lock()()
	if _, ok := r.data.students[e.StudentID]; !ok {
		return ErrStudentNotFound
	}
	if _, ok := r.data.courses[e.CourseID]; !ok {
		return ErrCourseNotFound
	}
	for _, existing := range r.data.enrollments {
		if existing.StudentID == e.StudentID && existing.CourseID == e.CourseID {
			return ErrAlreadyEnrolled
		}
	}
	e.ID = r.nextID()
	r.data.enrollments[e.ID] = *e
	return nil
}

func (r *MemoryRepository) EnrollmentExists(_ context.Context, studentID, courseID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.data.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) DeleteEnrollment(_ context.Context, studentID, courseID int64) (bool, error) {
	defer r.lock()()
	found := false
	for id, e := range r.data.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			delete(r.data.enrollments, id)
			found = true
		}
	}
	return found, nil
}

func (r *MemoryRepository) DeleteCourseEnrollments(_ context.Context, courseID int64) error {
	defer r.lock()()
	for id, e := range r.data.enrollments {
		if e.CourseID == courseID {
			delete(r.data.enrollments, id)
		}
	}
	return nil
}

func (r *MemoryRepository) ListStudentEnrollments(_ context.Context, studentID int64, limit int) ([]EnrolledCourse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []EnrolledCourse
	for _, id := range sortedKeys(r.data.enrollments) {
		e := r.data.enrollments[id]
		if e.StudentID != studentID {
			continue
		}
		res = append(res, EnrolledCourse{EnrollmentID: e.ID, Course: r.data.courses[e.CourseID]})
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (r *MemoryRepository) ListCourseRoster(_ context.Context, courseID int64) ([]Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for _, e := range r.data.enrollments {
		if e.CourseID == courseID {
			ids = append(ids, e.StudentID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	res := make([]Student, 0, len(ids))
	for _, id := range ids {
		res = append(res, r.data.students[id])
	}
	return res, nil
}

// -------- Attendance --------

func (r *MemoryRepository) CreateAttendance(_ context.Context, a *Attendance) error {
	defer r.lock()()
	if _, ok := r.data.courses[a.CourseID]; !ok {
		return ErrCourseNotFound
	}
	if a.StudentID != nil {
		if _, ok := r.data.students[*a.StudentID]; !ok {
			return ErrStudentNotFound
		}
	}
	a.AttendanceDate = DateOf(a.AttendanceDate)
	for _, existing := range r.data.attendance {
		if existing.CourseID != a.CourseID || !existing.AttendanceDate.Equal(a.AttendanceDate) {
			continue
		}
		switch {
		case a.StudentID == nil && existing.StudentID == nil:
			return ErrSessionAlreadyExists
		case a.StudentID != nil && existing.StudentID != nil && *a.StudentID == *existing.StudentID:
			return ErrAlreadyCheckedInToday
		}
	}
	a.ID = r.nextID()
	stored := *a
	if a.StudentID != nil {
		id := *a.StudentID
		stored.StudentID = &id
	}
	r.data.attendance[a.ID] = stored
	return nil
}

func (r *MemoryRepository) CourseDateHasAttendance(_ context.Context, courseID int64, date time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := DateOf(date)
	for _, a := range r.data.attendance {
		if a.CourseID == courseID && a.AttendanceDate.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CheckInExists(_ context.Context, studentID, courseID int64, date time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := DateOf(date)
	for _, a := range r.data.attendance {
		if a.StudentID != nil && *a.StudentID == studentID && a.CourseID == courseID && a.AttendanceDate.Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CourseHasAttendance(_ context.Context, courseID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.data.attendance {
		if a.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ListCourseAttendance(_ context.Context, courseID int64) ([]Attendance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Attendance
	for _, id := range sortedKeys(r.data.attendance) {
		if a := r.data.attendance[id]; a.CourseID == courseID {
			res = append(res, a)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].AttendanceDate.After(res[j].AttendanceDate) })
	return res, nil
}

func (r *MemoryRepository) CourseTallies(_ context.Context) ([]Tally, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tallies(func(Attendance) bool { return true }), nil
}

func (r *MemoryRepository) StudentTallies(_ context.Context, studentID int64) ([]Tally, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tallies(func(a Attendance) bool {
		return a.StudentID != nil && *a.StudentID == studentID
	}), nil
}

func (r *MemoryRepository) tallies(keep func(Attendance) bool) []Tally {
	byCourse := make(map[int64]*Tally)
	for _, a := range r.data.attendance {
		if !keep(a) {
			continue
		}
		t, ok := byCourse[a.CourseID]
		if !ok {
			t = &Tally{CourseID: a.CourseID}
			byCourse[a.CourseID] = t
		}
		t.Total++
		if a.IsPresent {
			t.Present++
		}
	}
	res := make([]Tally, 0, len(byCourse))
	for _, id := range sortedKeys(byCourse) {
		res = append(res, *byCourse[id])
	}
	return res
}
