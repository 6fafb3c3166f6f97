package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"classroll/internal/attendance"
	"classroll/internal/metrics"
)

// DefaultTTL is how long a credential stays valid after login.
const DefaultTTL = 3 * time.Hour

// Authenticator verifies a username/password pair for a claimed role.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, claimed attendance.Role) (attendance.Principal, error)
}

// Credential is what a successful login hands back to the caller.
type Credential struct {
	Token     string
	Claims    Claims
	ExpiresAt time.Time
}

// Gate turns logins into signed credentials and credentials back into principals.
type Gate struct {
	users   Authenticator
	key     string
	issuer  string
	ttl     time.Duration
	revoker Revoker
	now     func() time.Time
}

// NewGate builds a gate. A zero ttl means DefaultTTL; a nil revoker keeps
// revocations in memory.
func NewGate(users Authenticator, key, issuer string, ttl time.Duration, revoker Revoker) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Gate{users: users, key: key, issuer: issuer, ttl: ttl, revoker: revoker, now: time.Now}
}

// Authenticate checks the credentials and issues a session credential.
func (g *Gate) Authenticate(ctx context.Context, username, password string, claimed attendance.Role) (Credential, error) {
	p, err := g.users.Authenticate(ctx, username, password, claimed)
	if err != nil {
		metrics.Logins.WithLabelValues(loginOutcome(err)).Inc()
		return Credential{}, err
	}
	token, claims, err := Issue(p, g.issuer, g.key, g.ttl, g.now())
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return Credential{}, err
	}
	metrics.Logins.WithLabelValues("ok").Inc()
	log.Printf("login %s as %s", p.Username, p.Role)
	return Credential{Token: token, Claims: claims, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify returns the principal behind a presented token. Expired, forged and
// signed-out tokens all fail with ErrSessionInvalid.
func (g *Gate) Verify(ctx context.Context, token string) (attendance.Principal, error) {
	if token == "" {
		return attendance.Principal{}, attendance.ErrSessionInvalid
	}
	claims, err := Parse(token, g.key, g.issuer)
	if err != nil {
		return attendance.Principal{}, attendance.ErrSessionInvalid
	}
	revoked, err := g.revoker.Revoked(ctx, claims.ID)
	if err != nil {
		return attendance.Principal{}, err
	}
	if revoked {
		return attendance.Principal{}, attendance.ErrSessionInvalid
	}
	return claims.Principal(), nil
}

// EndSession revokes token for the rest of its lifetime. Unknown, expired
// and already revoked tokens are accepted silently.
func (g *Gate) EndSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := Parse(token, g.key, g.issuer)
	if err != nil {
		return nil
	}
	remaining := claims.ExpiresAt.Time.Sub(g.now())
	if err := g.revoker.Revoke(ctx, claims.ID, remaining); err != nil {
		return err
	}
	log.Printf("logout %s", claims.Username)
	return nil
}

// TTL is the lifetime of issued credentials.
func (g *Gate) TTL() time.Duration { return g.ttl }

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, attendance.ErrInvalidCredentials):
		return "invalid"
	case errors.Is(err, attendance.ErrNotAdminAccount), errors.Is(err, attendance.ErrNotStudentAccount):
		return "role_mismatch"
	case errors.Is(err, attendance.ErrInactiveAccount):
		return "inactive"
	default:
		return "error"
	}
}
