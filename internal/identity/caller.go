// Package identity turns a presented credential into the verified Caller on whose
// behalf a request runs.
package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the business role of a caller.
type Role string

const (
	RoleCoach  Role = "coach"
	RoleClient Role = "client"
)

// ParseRole accepts only the known roles.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCoach:
		return RoleCoach, true
	case RoleClient:
		return RoleClient, true
	default:
		return "", false
	}
}

// Caller is the authenticated identity on whose behalf a request runs.
// It is a value; nothing in the process holds a "current" caller.
type Caller struct {
	ID    string
	Role  Role
	Email string
}

// IsZero reports whether c carries no identity.
func (c Caller) IsZero() bool {
	return c.ID == ""
}

// AppMetadata is the provider-controlled part of the token; users cannot edit it.
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims are the token claims forwarded to the data store for policy evaluation.
type Claims struct {
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Principal is a resolved credential: the caller plus the verified claims and
// access token that prove it.
type Principal struct {
	Caller Caller
	Claims Claims
	Token  string
}

func callerFromClaims(c *Claims) (Caller, error) {
	sub := strings.TrimSpace(c.Subject)
	if sub == "" {
		return Caller{}, unauthenticated("subject missing")
	}
	role, ok := ParseRole(c.AppMetadata.Role)
	if !ok {
		return Caller{}, unauthenticated("role missing or unknown")
	}
	return Caller{ID: sub, Role: role, Email: strings.TrimSpace(c.Email)}, nil
}
