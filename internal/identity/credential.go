package identity

import (
	"strings"
)

// Credential is what a request presents to prove who it is. The concrete types
// are BearerToken and Session; Resolver handles each explicitly.
type Credential interface {
	kind() string
}

// BearerToken is an access token taken from an Authorization header.
type BearerToken string

func (BearerToken) kind() string { return "bearer" }

// Session is an opaque legacy session identifier that maps to an access token.
type Session string

func (Session) kind() string { return "session" }

// KindOf names the credential variant for logs and metrics.
func KindOf(c Credential) string {
	if c == nil {
		return "none"
	}
	return c.kind()
}

// ParseAuthorization extracts a bearer token from an Authorization header value.
func ParseAuthorization(header string) (BearerToken, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", unauthenticated("missing bearer token")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", unauthenticated("invalid authorization scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", unauthenticated("empty bearer token")
	}
	return BearerToken(token), nil
}
