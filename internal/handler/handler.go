// Package handler exposes the attendance service over JSON HTTP.
package handler

import (
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

// Config carries the transport settings of the handler.
type Config struct {
	CookieName    string
	CookieSecure  bool
	MaxPhotoBytes int64
	// LoginLimiter runs before POST /auth/login when set.
	LoginLimiter gin.HandlerFunc
}

type Handler struct {
	svc  *attendance.Service
	gate *auth.Gate
	cfg  Config
	now  func() time.Time
}

func New(svc *attendance.Service, gate *auth.Gate, cfg Config) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "classroll_session"
	}
	if cfg.MaxPhotoBytes <= 0 {
		cfg.MaxPhotoBytes = 5 << 20
	}
	return &Handler{svc: svc, gate: gate, cfg: cfg, now: time.Now}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	login := []gin.HandlerFunc{}
	if h.cfg.LoginLimiter != nil {
		login = append(login, h.cfg.LoginLimiter)
	}
	r.POST("/auth/login", append(login, h.Login)...)
	r.POST("/auth/logout", h.Logout)

	session := auth.Session(h.gate, h.cfg.CookieName)

	admin := r.Group("/admin", session, auth.RequireRole(attendance.RoleAdmin))
	admin.GET("/dashboard", h.AdminDashboard)
	admin.POST("/admins", h.AddAdmin)

	admin.GET("/students", h.ListStudents)
	admin.POST("/students", h.AddStudent)
	admin.GET("/students/:id", h.GetStudent)
	admin.PUT("/students/:id", h.EditStudent)
	admin.DELETE("/students/:id", h.DeleteStudent)
	admin.PATCH("/students/:id/status", h.SetStudentStatus)

	admin.GET("/courses", h.ListCourses)
	admin.POST("/courses", h.AddCourse)
	admin.GET("/courses/:id", h.GetCourse)
	admin.PUT("/courses/:id", h.EditCourse)
	admin.DELETE("/courses/:id", h.DeleteCourse)
	admin.GET("/courses/:id/students", h.CourseRoster)
	admin.POST("/courses/:id/enrollments", h.Enroll)
	admin.DELETE("/courses/:id/enrollments/:studentId", h.Unenroll)
	admin.POST("/courses/:id/sessions", h.OpenSession)
	admin.GET("/courses/:id/attendance", h.CourseAttendance)

	student := r.Group("/student", session, auth.RequireRole(attendance.RoleStudent))
	student.GET("/dashboard", h.StudentDashboard)
	student.GET("/courses", h.MyCourses)
	student.GET("/today", h.TodayCourses)
	student.GET("/profile", h.Profile)
	student.POST("/attendance", h.CheckIn)
}

// ---------- Auth ----------

type loginRequest struct {
	Username string          `json:"username" binding:"required"`
	Password string          `json:"password" binding:"required"`
	Role     attendance.Role `json:"role" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, password and role (admin or student) are required"})
		return
	}
	cred, err := h.gate.Authenticate(c.Request.Context(), strings.TrimSpace(req.Username), req.Password, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cfg.CookieName, cred.Token, int(h.gate.TTL().Seconds()), "/", "", h.cfg.CookieSecure, true)
	resp := gin.H{
		"token":      cred.Token,
		"expires_at": cred.ExpiresAt.Unix(),
		"username":   cred.Claims.Username,
		"role":       cred.Claims.Role,
	}
	if cred.Claims.StudentID != 0 {
		resp["student_id"] = cred.Claims.StudentID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.gate.EndSession(c.Request.Context(), auth.TokenFrom(c, h.cfg.CookieName)); err != nil {
		log.Printf("logout: revoke failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end session"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cfg.CookieName, "", -1, "/", "", h.cfg.CookieSecure, true)
	c.Status(http.StatusNoContent)
}

// ---------- Admin ----------

func (h *Handler) AdminDashboard(c *gin.Context) {
	d, err := h.svc.AdminDashboard(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type adminRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) AddAdmin(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	u, err := h.svc.AddAdmin(c.Request.Context(), auth.PrincipalFrom(c), attendance.AdminInput{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	list, err := h.svc.ListStudents(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (h *Handler) GetStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.svc.GetStudent(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// studentForm is the multipart body of the create and edit endpoints. The
// optional file part is named "photo".
type studentForm struct {
	FullName      string `form:"full_name"`
	StudentNumber string `form:"student_number"`
	Email         string `form:"email"`
	Password      string `form:"password"`
	IsActive      *bool  `form:"is_active"`
}

// input leaves IsActive nil when the field is absent so that an edit keeps
// the current status.
func (f studentForm) input() attendance.StudentInput {
	return attendance.StudentInput{
		FullName:      f.FullName,
		StudentNumber: f.StudentNumber,
		Email:         f.Email,
		Password:      f.Password,
		IsActive:      f.IsActive,
	}
}

func (h *Handler) AddStudent(c *gin.Context) {
	var form studentForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
		return
	}
	ph, closeFn, ok := h.photoPart(c)
	if !ok {
		return
	}
	defer closeFn()

	st, err := h.svc.AddStudent(c.Request.Context(), auth.PrincipalFrom(c), form.input(), ph)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) EditStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var form studentForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
		return
	}
	ph, closeFn, ok := h.photoPart(c)
	if !ok {
		return
	}
	defer closeFn()

	st, err := h.svc.EditStudent(c.Request.Context(), auth.PrincipalFrom(c), id, form.input(), ph)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteStudent(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetStudentStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}
	if err := h.svc.SetStudentActive(c.Request.Context(), auth.PrincipalFrom(c), id, *req.IsActive); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}

// photoPart opens the optional "photo" file. The returned close func is
// always safe to call.
func (h *Handler) photoPart(c *gin.Context) (*attendance.Photo, func(), bool) {
	noop := func() {}
	header, err := c.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo upload"})
		return nil, noop, false
	}
	if header.Size > h.cfg.MaxPhotoBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo is too large"})
		return nil, noop, false
	}
	if !imageFile(header) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo must be a jpg, png, gif or webp image"})
		return nil, noop, false
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read photo"})
		return nil, noop, false
	}
	return &attendance.Photo{Filename: header.Filename, Content: f}, func() { _ = f.Close() }, true
}

func imageFile(h *multipart.FileHeader) bool {
	name := strings.ToLower(h.Filename)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ---------- Courses ----------

type courseRequest struct {
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	Credits    int    `json:"credits"`
	Semester   string `json:"semester"`
}

func (r courseRequest) input() attendance.CourseInput {
	return attendance.CourseInput{CourseCode: r.CourseCode, CourseName: r.CourseName, Credits: r.Credits, Semester: r.Semester}
}

func (h *Handler) ListCourses(c *gin.Context) {
	list, err := h.svc.ListCourses(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (h *Handler) GetCourse(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	course, err := h.svc.GetCourse(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) AddCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	course, err := h.svc.AddCourse(c.Request.Context(), auth.PrincipalFrom(c), req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *Handler) EditCourse(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	course, err := h.svc.EditCourse(c.Request.Context(), auth.PrincipalFrom(c), id, req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *Handler) DeleteCourse(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteCourse(c.Request.Context(), auth.PrincipalFrom(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CourseRoster(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.CourseRoster(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (h *Handler) Enroll(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		StudentID int64 `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
		return
	}
	e, err := h.svc.Enroll(c.Request.Context(), auth.PrincipalFrom(c), req.StudentID, courseID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) Unenroll(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	if err := h.svc.Unenroll(c.Request.Context(), auth.PrincipalFrom(c), studentID, courseID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Attendance ----------

type sessionRequest struct {
	Date string `json:"date" binding:"required"` // 2006-01-02
	Time string `json:"time"`                    // 15:04, defaults to now
}

func (h *Handler) OpenSession(c *gin.Context) {
	courseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required (YYYY-MM-DD)"})
		return
	}
	at, err := h.sessionTime(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.svc.OpenSession(c.Request.Context(), auth.PrincipalFrom(c), courseID, at)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) sessionTime(req sessionRequest) (time.Time, error) {
	loc := h.svc.Location()
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), loc)
	if err != nil {
		return time.Time{}, errors.New("date must be in YYYY-MM-DD format")
	}
	var clock time.Duration
	if req.Time != "" {
		t, err := time.Parse("15:04", strings.TrimSpace(req.Time))
		if err != nil {
			return time.Time{}, errors.New("time must be in HH:MM format")
		}
		clock = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	} else {
		clock = attendance.ClockOf(h.now().In(loc))
	}
	return day.Add(clock), nil
}

func (h *Handler) CourseAttendance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rows, err := h.svc.CourseAttendance(c.Request.Context(), auth.PrincipalFrom(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": rows})
}

// ---------- Student ----------

func (h *Handler) StudentDashboard(c *gin.Context) {
	d, err := h.svc.StudentDashboard(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) MyCourses(c *gin.Context) {
	list, err := h.svc.MyCourses(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (h *Handler) TodayCourses(c *gin.Context) {
	list, err := h.svc.TodayCourses(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (h *Handler) Profile(c *gin.Context) {
	st, err := h.svc.Profile(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// CheckIn always answers 200 with the result envelope; the outcome is in
// the success flag.
func (h *Handler) CheckIn(c *gin.Context) {
	var req struct {
		CourseID int64 `json:"course_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, attendance.CheckInResult{Message: "course_id is required"})
		return
	}
	c.JSON(http.StatusOK, h.svc.CheckIn(c.Request.Context(), auth.PrincipalFrom(c), req.CourseID))
}

// ---------- helpers ----------

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": attendance.Message(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, attendance.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrDuplicateKey),
		errors.Is(err, attendance.ErrAlreadyExists),
		errors.Is(err, attendance.ErrHasDependents):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
