package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks an access token and returns the principal it proves.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

const issuedAtSkew = 5 * time.Second

// JWTVerifier validates HS256 tokens signed with the identity provider's shared secret.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// JWTOption configures a JWTVerifier.
type JWTOption func(*JWTVerifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = strings.TrimSpace(issuer) }
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) JWTOption {
	return func(v *JWTVerifier) { v.audience = strings.TrimSpace(audience) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier returns a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte, opts ...JWTOption) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("identity: jwt secret is required")
	}
	v := &JWTVerifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks signature, algorithm, timestamps, issuer, audience, subject and role.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, unauthenticated("empty token")
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		popts = append(popts, jwt.WithAudience(v.audience))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, popts...)
	if err != nil || !parsed.Valid {
		return Principal{}, unauthenticated("invalid token")
	}
	if err := v.checkTimestamps(claims); err != nil {
		return Principal{}, err
	}
	caller, err := callerFromClaims(claims)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Caller: caller, Claims: *claims, Token: token}, nil
}

func (v *JWTVerifier) checkTimestamps(c *Claims) error {
	if c.IssuedAt == nil {
		return unauthenticated("issued-at missing")
	}
	now := v.now()
	if c.IssuedAt.After(now.Add(issuedAtSkew)) {
		return unauthenticated("token issued in the future")
	}
	if c.ExpiresAt.Before(c.IssuedAt.Time) {
		return unauthenticated("token expiry precedes issued-at")
	}
	return nil
}
