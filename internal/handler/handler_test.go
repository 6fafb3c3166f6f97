package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/password"
	"classroll/internal/photo"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	svc    *attendance.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)
	photos, err := photo.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)
	svc := attendance.NewService(attendance.NewMemoryRepository(), password.New(4), photos, attendance.Options{
		Location: time.UTC,
		Now:      func() time.Time { return clock },
	})
	created, err := svc.EnsureAdmin(context.Background(), "admin", "adminpass")
	require.NoError(t, err)
	require.True(t, created)

	gate := auth.NewGate(svc, "test-key", "classroll-test", 0, nil)
	h := New(svc, gate, Config{CookieName: "sid"})
	r := gin.New()
	h.Register(r)
	return &testServer{t: t, router: r, svc: svc}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(username, pass, role string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/login", "", gin.H{"username": username, "password": pass, "role": role})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func (s *testServer) createStudent(token, number string, withPhoto bool) attendance.Student {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("full_name", "Student "+number)
	_ = mw.WriteField("student_number", number)
	_ = mw.WriteField("email", number+"@example.edu")
	_ = mw.WriteField("password", "pw-"+number)
	if withPhoto {
		part, err := mw.CreateFormFile("photo", "face.png")
		require.NoError(s.t, err)
		_, _ = part.Write([]byte("fake-png"))
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/students", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var st attendance.Student
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLoginRoleMismatch(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "adminpass", "role": "student"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "not a student account")

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "nope", "role": "admin"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "adminpass", "role": "guest"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginSetsStrictCookie(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/auth/login", "", gin.H{"username": "admin", "password": "adminpass", "role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "sid=")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, cookie, "SameSite=Strict")
}

func TestAttendanceFlow(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")

	w := s.do(http.MethodPost, "/admin/courses", admin, gin.H{
		"course_code": "CS101", "course_name": "Intro", "credits": 3, "semester": "2024-Fall",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	course := decode[attendance.Course](t, w)

	sessionPath := "/admin/courses/" + itoa(course.ID) + "/sessions"
	w = s.do(http.MethodPost, sessionPath, admin, gin.H{"date": "2024-09-01", "time": "08:30"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, sessionPath, admin, gin.H{"date": "2024-09-01"})
	assert.Equal(t, http.StatusConflict, w.Code)

	st := s.createStudent(admin, "S001", true)
	assert.NotEqual(t, photo.DefaultAvatar, st.PhotoRef)

	student := s.login("S001", "pw-S001", "student")

	// not enrolled yet
	w = s.do(http.MethodPost, "/student/attendance", student, gin.H{"course_id": course.ID})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[attendance.CheckInResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "You are not enrolled in this course.", res.Message)

	w = s.do(http.MethodPost, "/admin/courses/"+itoa(course.ID)+"/enrollments", admin, gin.H{"student_id": st.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/admin/courses/"+itoa(course.ID)+"/enrollments", admin, gin.H{"student_id": st.ID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/student/attendance", student, gin.H{"course_id": course.ID})
	res = decode[attendance.CheckInResult](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, "Your attendance has been recorded successfully.", res.Message)

	w = s.do(http.MethodPost, "/student/attendance", student, gin.H{"course_id": course.ID})
	res = decode[attendance.CheckInResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "Your attendance for today has already been recorded.", res.Message)

	w = s.do(http.MethodGet, "/student/courses", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	courses := decode[struct {
		Courses []attendance.CourseAttendance `json:"courses"`
	}](t, w)
	require.Len(t, courses.Courses, 1)
	assert.Equal(t, 100.0, courses.Courses[0].AttendancePercentage)

	w = s.do(http.MethodGet, "/admin/courses/"+itoa(course.ID)+"/attendance", admin, nil)
	rows := decode[struct {
		Attendance []attendance.Attendance `json:"attendance"`
	}](t, w)
	assert.Len(t, rows.Attendance, 2)

	w = s.do(http.MethodDelete, "/admin/courses/"+itoa(course.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "attendance records")

	w = s.do(http.MethodGet, "/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[attendance.AdminDashboard](t, w)
	assert.Equal(t, 1, dash.TotalStudents)
	assert.Equal(t, 1, dash.TotalCourses)
	assert.Equal(t, 1, dash.LowAttendanceCourses)
	assert.Equal(t, 1, dash.NewStudents)
}

func TestRoleScoping(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")
	s.createStudent(admin, "S002", false)
	student := s.login("S002", "pw-S002", "student")

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/admin/dashboard", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/student/profile", admin, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/student/profile", "", nil).Code)

	w := s.do(http.MethodGet, "/student/profile", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[attendance.Student](t, w)
	assert.Equal(t, "S002", profile.StudentNumber)
	assert.Equal(t, photo.DefaultAvatar, profile.PhotoRef)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/admin/students", admin, nil).Code)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/auth/logout", admin, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/auth/logout", admin, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/students", admin, nil).Code)
}

func TestStudentLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")
	st := s.createStudent(admin, "S003", false)
	path := "/admin/students/" + itoa(st.ID)

	w := s.do(http.MethodPatch, path+"/status", admin, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/auth/login", "", gin.H{"username": "S003", "password": "pw-S003", "role": "student"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "inactive")

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, path, admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/admin/students/abc", admin, nil).Code)
}

func (s *testServer) putStudent(token string, id int64, fields map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/admin/students/"+itoa(id), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestEditStudentKeepsStatusWhenFieldOmitted(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")
	st := s.createStudent(admin, "S004", false)
	require.True(t, st.IsActive)

	w := s.do(http.MethodPatch, "/admin/students/"+itoa(st.ID)+"/status", admin, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)

	fields := map[string]string{"full_name": "Renamed", "student_number": "S004", "email": "r@example.edu"}
	w = s.putStudent(admin, st.ID, fields)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[attendance.Student](t, w).IsActive)

	fields["is_active"] = "true"
	w = s.putStudent(admin, st.ID, fields)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[attendance.Student](t, w).IsActive)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin", "adminpass", "admin")

	w := s.do(http.MethodPost, "/admin/courses", admin, gin.H{
		"course_code": "CS102", "course_name": "Data", "credits": 0, "semester": "2024-Fall",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "credits must be greater than 0")

	w = s.do(http.MethodPost, "/admin/courses/999/sessions", admin, gin.H{"date": "01/09/2024"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/admin/courses/999/sessions", admin, gin.H{"date": "2024-09-01"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(attendance.ErrNotEnrolledInCourse))
	assert.Equal(t, http.StatusBadGateway, statusOf(attendance.ErrPhotoWrite))
	assert.Equal(t, http.StatusConflict, statusOf(attendance.ErrDuplicateCourseCode))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
