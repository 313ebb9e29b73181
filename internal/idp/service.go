// Package idp is a small GoTrue-compatible identity provider for development
// and for the isolation harness. It issues the same HS256 tokens the API verifies.
//
// It is not a production provider. Anyone who can reach the sign-up endpoint
// chooses their own business role, coach included, and that role is written to
// app_metadata where the API trusts it. Production deployments must use a
// provider that assigns roles out of band.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

const defaultTokenTTL = time.Hour

// Service registers accounts and issues access tokens.
type Service struct {
	store    Store
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	verifier *identity.JWTVerifier
}

// Option configures Service.
type Option func(*Service) error

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the aud claim.
func WithAudience(aud string) Option {
	return func(s *Service) error {
		s.audience = strings.TrimSpace(aud)
		return nil
	}
}

// WithTokenTTL sets access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("idp: token ttl must be positive")
		}
		s.ttl = ttl
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// NewService returns a provider signing with secret.
func NewService(store Store, secret []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("idp: store is required")
	}
	s := &Service{
		store:    store,
		secret:   secret,
		issuer:   "coachlink-idp",
		audience: "authenticated",
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	v, err := identity.NewJWTVerifier(secret,
		identity.WithIssuer(s.issuer),
		identity.WithAudience(s.audience),
		identity.WithClock(s.now),
	)
	if err != nil {
		return nil, err
	}
	s.verifier = v
	return s, nil
}

// Session is an issued access token with its account.
type Session struct {
	AccessToken string
	ExpiresIn   time.Duration
	User        *User
}

// SignUp creates an account and signs it in. The caller picks the role, which
// is then fixed; see the package doc for why this is development only.
func (s *Service) SignUp(ctx context.Context, email, password, role string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	r, ok := identity.ParseRole(role)
	if !ok {
		return Session{}, fmt.Errorf("%w: role must be coach or client", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	u := &User{ID: uuid.NewString(), Email: email, PasswordHash: hash, Role: r}
	if err := s.store.Create(ctx, u); err != nil {
		return Session{}, err
	}
	obs.L(ctx).Info("idp user registered", zap.String("user_id", u.ID), zap.String("role", string(r)))
	return s.issue(u)
}

// SignIn checks the password and issues a token.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	u, err := s.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		VerifyPassword("", password)
		return Session{}, ErrInvalidCredentials
	case err != nil:
		return Session{}, err
	}
	if !VerifyPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	if err := s.store.TouchSignIn(ctx, u.ID, s.now().UTC()); err != nil {
		obs.L(ctx).Warn("idp sign-in timestamp not recorded", zap.Error(err))
	}
	return s.issue(u)
}

// UserForToken verifies token and returns its account.
func (s *Service) UserForToken(ctx context.Context, token string) (*User, error) {
	p, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.FindByID(ctx, p.Caller.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", identity.ErrUnauthenticated)
	}
	return u, err
}

func (s *Service) issue(u *User) (Session, error) {
	now := s.now().UTC()
	claims := identity.Claims{
		Email:       u.Email,
		Role:        "authenticated",
		AppMetadata: identity.AppMetadata{Role: string(u.Role)},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("idp: sign token: %w", err)
	}
	return Session{AccessToken: signed, ExpiresIn: s.ttl, User: u}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
