package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

// createSession exchanges the verified bearer token for a cookie session. The
// session stores the token itself, so every later request is verified again.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	if a.opts.Sessions == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok || p.Token == "" {
		unauthorized(w, r, "missing credential")
		return
	}
	expiresAt := time.Now().Add(time.Hour)
	if p.Claims.ExpiresAt != nil {
		expiresAt = p.Claims.ExpiresAt.Time
	}
	id, err := a.opts.Sessions.Create(r.Context(), p.Token, expiresAt)
	if err != nil {
		obs.L(r.Context()).Warn("session create failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// deleteSession revokes the cookie session, if any, and clears the cookie.
func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if a.opts.Sessions == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := a.opts.Sessions.Revoke(r.Context(), c.Value); err != nil {
			obs.L(r.Context()).Warn("session revoke failed", zap.Error(err))
			writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
