package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
)

const principalKey = "principal"

// Session resolves the caller from the session cookie or a bearer token and
// stores the principal on the context. Requests without a valid credential
// are rejected with 401.
func Session(g *Gate, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := g.Verify(c.Request.Context(), TokenFrom(c, cookieName))
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, attendance.ErrAuth) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": attendance.Message(err)})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireRole rejects principals that do not hold role.
func RequireRole(role attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := attendance.Authorize(PrincipalFrom(c), role); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": attendance.Message(err)})
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal set by Session, or the zero value.
func PrincipalFrom(c *gin.Context) attendance.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return attendance.Principal{}
	}
	p, _ := v.(attendance.Principal)
	return p
}

// TokenFrom reads the credential from the cookie, falling back to the
// Authorization header.
func TokenFrom(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}
