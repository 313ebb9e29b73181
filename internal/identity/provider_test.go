package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newProviderServer(t *testing.T, handler http.HandlerFunc) *ProviderClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewProviderClient(srv.URL, "anon-key", nil, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestProviderVerify(t *testing.T) {
	client := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 401, "msg": "invalid JWT"})
			return
		}
		_ = json.NewEncoder(w).Encode(ProviderUser{
			ID:          "client-a",
			Email:       "a@example.test",
			AppMetadata: AppMetadata{Role: "client"},
		})
	})

	p, err := client.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Caller.ID != "client-a" || p.Caller.Role != RoleClient {
		t.Fatalf("unexpected caller %+v", p.Caller)
	}
	if p.Claims.Role != "authenticated" {
		t.Fatalf("claims role %q", p.Claims.Role)
	}

	if _, err := client.Verify(context.Background(), "bad"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestProviderFailsClosed(t *testing.T) {
	client := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := client.Verify(context.Background(), "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestProviderTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	client, err := NewProviderClient(srv.URL, "", nil, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Verify(context.Background(), "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestProviderSignUpAlreadyRegistered(t *testing.T) {
	client := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/signup":
			var body struct {
				Email string            `json:"email"`
				Data  map[string]string `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Data["role"] != "coach" {
				t.Errorf("role not forwarded: %v", body.Data)
			}
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 422, "error_code": "user_already_exists", "msg": "User already registered",
			})
		case "/auth/v1/token":
			if r.URL.Query().Get("grant_type") != "password" {
				t.Errorf("grant_type=%q", r.URL.Query().Get("grant_type"))
			}
			_ = json.NewEncoder(w).Encode(AuthResult{
				AccessToken: "tok",
				TokenType:   "bearer",
				ExpiresIn:   3600,
				User:        ProviderUser{ID: "coach-a", AppMetadata: AppMetadata{Role: "coach"}},
			})
		default:
			http.NotFound(w, r)
		}
	})

	_, err := client.SignUp(context.Background(), "coach@example.test", "pw", RoleCoach)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	res, err := client.SignIn(context.Background(), "coach@example.test", "pw")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.AccessToken != "tok" || res.User.ID != "coach-a" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewProviderClientRejectsBadURL(t *testing.T) {
	if _, err := NewProviderClient("not a url", "", nil, 0); err == nil {
		t.Fatal("expected error")
	}
}
