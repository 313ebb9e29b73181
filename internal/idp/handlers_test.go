package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coachlink.app/internal/identity"
)

func newProviderPair(t *testing.T, apiKey string) (*identity.ProviderClient, string) {
	t.Helper()
	svc, err := NewService(newMemStore(), []byte(testSecret))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	srv := httptest.NewServer(Router(svc, "anon-key"))
	t.Cleanup(srv.Close)
	client, err := identity.NewProviderClient(srv.URL, apiKey, nil, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client, srv.URL
}

func TestProviderClientAgainstRouter(t *testing.T) {
	client, _ := newProviderPair(t, "anon-key")
	ctx := context.Background()

	res, err := client.SignUp(ctx, "coach@example.test", "correct horse", identity.RoleCoach)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if res.TokenType != "bearer" || res.ExpiresIn != 3600 || res.AccessToken == "" {
		t.Fatalf("unexpected auth result %+v", res)
	}
	if res.User.AppMetadata.Role != "coach" {
		t.Fatalf("role not carried in app_metadata: %+v", res.User)
	}

	if _, err := client.SignUp(ctx, "coach@example.test", "correct horse", identity.RoleCoach); !errors.Is(err, identity.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	in, err := client.SignIn(ctx, "coach@example.test", "correct horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	p, err := client.Verify(ctx, in.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Caller.ID != res.User.ID || p.Caller.Role != identity.RoleCoach {
		t.Fatalf("unexpected caller %+v", p.Caller)
	}

	if _, err := client.SignIn(ctx, "coach@example.test", "wrong password"); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := client.Verify(ctx, "not-a-token"); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRouterRequiresAPIKey(t *testing.T) {
	client, _ := newProviderPair(t, "wrong-key")
	_, err := client.SignUp(context.Background(), "coach@example.test", "correct horse", identity.RoleCoach)
	if !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRouterErrors(t *testing.T) {
	_, base := newProviderPair(t, "anon-key")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unsupported grant", http.MethodPost, "/auth/v1/token?grant_type=refresh_token", `{}`, http.StatusBadRequest, "unsupported_grant_type"},
		{"bad json", http.MethodPost, "/auth/v1/signup", `{`, http.StatusBadRequest, "bad_json"},
		{"bad role", http.MethodPost, "/auth/v1/signup", `{"email":"x@example.test","password":"correct horse","data":{"role":"admin"}}`, http.StatusBadRequest, "validation_failed"},
		{"no bearer", http.MethodGet, "/auth/v1/user", ``, http.StatusUnauthorized, "no_authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, base+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("apikey", "anon-key")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.status)
			}
			var body errorJSON
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.ErrorCode != tt.code {
				t.Fatalf("error_code %q, want %q", body.ErrorCode, tt.code)
			}
		})
	}
}

func TestHealthNeedsNoKey(t *testing.T) {
	_, base := newProviderPair(t, "")
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
