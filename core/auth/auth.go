// Package auth issues and verifies the bearer credentials shared by the REST API and the realtime endpoint.
package auth

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher, RoleStudent}

	SigningMethod = jwt.SigningMethodHS256
	NowFunc       = time.Now // mockable

	// errors
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Identity is the authenticated principal behind a credential.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Role string `json:"role"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.Subject, Role: c.Role}
}

// Valid checks the standard claims then the role.
func (c Claims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if c.Subject == "" {
		return errors.New("token has no subject")
	}
	if !IsValidRole(c.Role) {
		return errors.Errorf("unknown role %q", c.Role)
	}
	return nil
}

func IsValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// NewClaims returns the claims of `id`, valid for `ttl`.
func NewClaims(issuer string, id Identity, ttl time.Duration) *Claims {
	now := NowFunc()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
		Role: id.Role,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(secret []byte, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(SigningMethod, claims)
	ss, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// ParseToken verifies a signed token and returns its Identity.
func ParseToken(secret []byte, tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrMissingCredential
	}
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != SigningMethod.Alg() {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidCredential
	}
	return claims.Identity(), nil
}
