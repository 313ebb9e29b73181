package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
)

const (
	authHeader    = "Authorization"
	sessionCookie = "coachlink_session"
)

type gatewayKey struct{}

// withAuth resolves the request's credential once and binds a gateway to the
// verified caller. Nothing downstream sees an unverified identity.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		cred, err := a.credential(r)
		if err != nil {
			unauthorized(w, r, "missing or malformed credential")
			return
		}
		p, err := a.resolver.Resolve(r.Context(), cred)
		if err != nil {
			if errors.Is(err, identity.ErrUnavailable) {
				writeError(w, r, http.StatusServiceUnavailable, "identity provider unavailable")
				return
			}
			unauthorized(w, r, "invalid credential")
			return
		}
		g, err := a.gateways.Bind(p)
		if err != nil {
			unauthorized(w, r, "invalid credential")
			return
		}
		ctx := identity.ContextWithPrincipal(r.Context(), p)
		ctx = context.WithValue(ctx, gatewayKey{}, g)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credential prefers the Authorization header. The session cookie is honoured
// only when sessions are enabled and no header was sent.
func (a *API) credential(r *http.Request) (identity.Credential, error) {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		return identity.ParseAuthorization(h)
	}
	if a.opts.Sessions != nil {
		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			return identity.Session(c.Value), nil
		}
	}
	return identity.ParseAuthorization("")
}

func gatewayFrom(ctx context.Context) *gateway.Gateway {
	g, _ := ctx.Value(gatewayKey{}).(*gateway.Gateway)
	return g
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="coachlink", error="invalid_token"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
