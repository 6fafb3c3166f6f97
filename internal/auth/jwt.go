// Package auth issues and checks the signed session credential.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"classroll/internal/attendance"
)

// Claims represents the JWT payload. Role and StudentID are server-issued
// and are the only identity the handlers trust.
type Claims struct {
	Username  string          `json:"username"`
	Role      attendance.Role `json:"role"`
	StudentID int64           `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal returns the identity carried by the claims.
func (c Claims) Principal() attendance.Principal {
	return attendance.Principal{Username: c.Username, Role: c.Role, StudentID: c.StudentID}
}

// Issue signs a credential for p that expires ttl after now.
func Issue(p attendance.Principal, issuer, key string, ttl time.Duration, now time.Time) (string, Claims, error) {
	claims := Claims{
		Username:  p.Username,
		Role:      p.Role,
		StudentID: p.StudentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   p.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if !claims.Role.Valid() || claims.ID == "" {
		return Claims{}, errors.New("incomplete claims")
	}
	return *claims, nil
}
