package identity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"coachlink.app/internal/obs"
)

// Resolver turns any Credential variant into one canonical Principal. Both
// variants end in the same Verifier, so they cannot disagree about a caller.
type Resolver struct {
	verifier Verifier
	sessions SessionStore
}

// NewResolver returns a resolver. sessions may be nil, in which case Session
// credentials are rejected.
func NewResolver(v Verifier, sessions SessionStore) (*Resolver, error) {
	if v == nil {
		return nil, errors.New("identity: verifier is required")
	}
	return &Resolver{verifier: v, sessions: sessions}, nil
}

// Resolve verifies cred. Errors wrap ErrUnauthenticated or ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (Principal, error) {
	ctx, span := obs.StartSpan(ctx, "identity.resolve")
	defer span.End()

	kind := KindOf(cred)
	p, err := r.resolve(ctx, cred)
	switch {
	case err == nil:
		obs.ObserveVerification(kind, "ok")
	case errors.Is(err, ErrUnavailable):
		obs.ObserveVerification(kind, "unavailable")
		obs.L(ctx).Warn("identity verification unavailable", zap.String("credential", kind), zap.Error(err))
	default:
		obs.ObserveVerification(kind, "rejected")
		obs.L(ctx).Debug("credential rejected", zap.String("credential", kind), zap.Error(err))
	}
	return p, err
}

func (r *Resolver) resolve(ctx context.Context, cred Credential) (Principal, error) {
	switch c := cred.(type) {
	case BearerToken:
		return r.verifier.Verify(ctx, string(c))
	case Session:
		if r.sessions == nil {
			return Principal{}, unauthenticated("sessions are not enabled")
		}
		token, err := r.sessions.Lookup(ctx, string(c))
		if err != nil {
			return Principal{}, err
		}
		return r.verifier.Verify(ctx, token)
	default:
		return Principal{}, unauthenticated("no credential")
	}
}
