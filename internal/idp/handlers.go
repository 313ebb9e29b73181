package idp

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

type userJSON struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	Role         string               `json:"role"`
	AppMetadata  identity.AppMetadata `json:"app_metadata"`
	CreatedAt    time.Time            `json:"created_at"`
	LastSignInAt *time.Time           `json:"last_sign_in_at,omitempty"`
}

type tokenJSON struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	User        userJSON `json:"user"`
}

type errorJSON struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"msg"`
}

func toUserJSON(u *User) userJSON {
	return userJSON{
		ID:           u.ID,
		Email:        u.Email,
		Role:         "authenticated",
		AppMetadata:  identity.AppMetadata{Role: string(u.Role)},
		CreatedAt:    u.CreatedAt,
		LastSignInAt: u.LastSignIn,
	}
}

// Router serves the GoTrue-compatible endpoints under /auth/v1. A non-empty
// apiKey must be presented in the apikey header.
func Router(svc *Service, apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(obs.HTTPMiddleware("idp"))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/auth/v1", func(r chi.Router) {
		r.Use(requireAPIKey(apiKey))
		r.Post("/signup", signUp(svc))
		r.Post("/token", token(svc))
		r.Get("/user", currentUser(svc))
	})
	return r
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("apikey")), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "no_api_key", "No API key found in request")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type credentials struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Data     map[string]string `json:"data"`
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	return dec.Decode(dst)
}

func signUp(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in credentials
		if err := decode(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
			return
		}
		sess, err := svc.SignUp(r.Context(), in.Email, in.Password, in.Data["role"])
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenJSON(sess))
	}
}

func token(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if grant := r.URL.Query().Get("grant_type"); grant != "password" {
			writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type "+grant)
			return
		}
		var in credentials
		if err := decode(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
			return
		}
		sess, err := svc.SignIn(r.Context(), in.Email, in.Password)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenJSON(sess))
	}
}

func currentUser(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := identity.ParseAuthorization(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
			return
		}
		u, err := svc.UserForToken(r.Context(), string(tok))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserJSON(u))
	}
}

func toTokenJSON(s Session) tokenJSON {
	return tokenJSON{
		AccessToken: s.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(s.ExpiresIn / time.Second),
		User:        toUserJSON(s.User),
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
	default:
		obs.L(r.Context()).Error("idp request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorJSON{Code: status, ErrorCode: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
