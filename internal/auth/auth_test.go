package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
)

type stubUsers map[string]attendance.Principal

func (s stubUsers) Authenticate(_ context.Context, username, password string, claimed attendance.Role) (attendance.Principal, error) {
	p, ok := s[username]
	if !ok || password != "secret" {
		return attendance.Principal{}, attendance.ErrInvalidCredentials
	}
	if p.Role != claimed {
		return attendance.Principal{}, attendance.ErrNotAdminAccount
	}
	return p, nil
}

func newTestGate() *Gate {
	users := stubUsers{
		"admin": {Username: "admin", Role: attendance.RoleAdmin},
		"S001":  {Username: "S001", Role: attendance.RoleStudent, StudentID: 7},
	}
	return NewGate(users, "test-key", "classroll-test", 0, nil)
}

func TestIssueAndParse(t *testing.T) {
	now := time.Now()
	p := attendance.Principal{Username: "S001", Role: attendance.RoleStudent, StudentID: 7}
	token, claims, err := Issue(p, "iss", "k", time.Hour, now)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := Parse(token, "k", "iss")
	require.NoError(t, err)
	assert.Equal(t, p, got.Principal())

	_, err = Parse(token, "other-key", "iss")
	assert.Error(t, err)
	_, err = Parse(token, "k", "other-issuer")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	p := attendance.Principal{Username: "admin", Role: attendance.RoleAdmin}
	token, _, err := Issue(p, "iss", "k", time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = Parse(token, "k", "iss")
	assert.Error(t, err)
}

func TestGateAuthenticateCarriesRole(t *testing.T) {
	g := newTestGate()
	cred, err := g.Authenticate(context.Background(), "S001", "secret", attendance.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, attendance.RoleStudent, cred.Claims.Role)
	assert.Equal(t, int64(7), cred.Claims.StudentID)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), cred.ExpiresAt, time.Minute)

	_, err = g.Authenticate(context.Background(), "S001", "wrong", attendance.RoleStudent)
	assert.ErrorIs(t, err, attendance.ErrInvalidCredentials)
}

func TestEndSessionRevokesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()
	cred, err := g.Authenticate(ctx, "admin", "secret", attendance.RoleAdmin)
	require.NoError(t, err)

	p, err := g.Verify(ctx, cred.Token)
	require.NoError(t, err)
	assert.Equal(t, attendance.RoleAdmin, p.Role)

	require.NoError(t, g.EndSession(ctx, cred.Token))
	require.NoError(t, g.EndSession(ctx, cred.Token))
	require.NoError(t, g.EndSession(ctx, "garbage"))

	_, err = g.Verify(ctx, cred.Token)
	assert.ErrorIs(t, err, attendance.ErrSessionInvalid)
}

func TestMemoryRevokerExpires(t *testing.T) {
	r := NewMemoryRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }
	require.NoError(t, r.Revoke(context.Background(), "a", time.Minute))

	ok, err := r.Revoked(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = r.Revoked(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := newTestGate()
	r := gin.New()
	r.GET("/admin", Session(g, "sid"), RequireRole(attendance.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, PrincipalFrom(c).Username)
	})

	admin, err := g.Authenticate(context.Background(), "admin", "secret", attendance.RoleAdmin)
	require.NoError(t, err)
	student, err := g.Authenticate(context.Background(), "S001", "secret", attendance.RoleStudent)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"no credential", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer admin", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+admin.Token) }, http.StatusOK},
		{"cookie admin", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "sid", Value: admin.Token}) }, http.StatusOK},
		{"student on admin route", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+student.Token) }, http.StatusForbidden},
		{"forged", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc.def.ghi") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
