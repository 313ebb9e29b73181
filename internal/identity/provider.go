package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProviderUser is the identity provider's view of an account.
type ProviderUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

// AuthResult is returned by sign-up and sign-in.
type AuthResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"`
	User        ProviderUser `json:"user"`
}

type providerError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"msg"`
}

// ProviderClient talks to a GoTrue-compatible identity provider over HTTP.
type ProviderClient struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// NewProviderClient builds a client for the provider at baseURL. A nil httpClient
// gets a client with the given timeout.
func NewProviderClient(baseURL, apiKey string, httpClient *http.Client, timeout time.Duration) (*ProviderClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("identity: invalid provider url %q", baseURL)
	}
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ProviderClient{base: u, apiKey: apiKey, http: httpClient}, nil
}

// Verify asks the provider who owns token. Any failure to get an answer is
// ErrUnavailable; a definite rejection is ErrUnauthenticated.
func (p *ProviderClient) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, unauthenticated("empty token")
	}
	var user ProviderUser
	if err := p.do(ctx, http.MethodGet, "/auth/v1/user", nil, token, nil, &user); err != nil {
		return Principal{}, err
	}
	claims := Claims{
		Email:       user.Email,
		Role:        user.Role,
		AppMetadata: user.AppMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
		},
	}
	if claims.Role == "" {
		claims.Role = "authenticated"
	}
	// Timestamps come from the token itself; the provider already vouched for it.
	if unverified, _, err := jwt.NewParser().ParseUnverified(token, &Claims{}); err == nil {
		if c, ok := unverified.Claims.(*Claims); ok && c.Subject == user.ID {
			claims.RegisteredClaims = c.RegisteredClaims
		}
	}
	caller, err := callerFromClaims(&claims)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Caller: caller, Claims: claims, Token: token}, nil
}

// SignUp registers an account with the given business role.
func (p *ProviderClient) SignUp(ctx context.Context, email, password string, role Role) (AuthResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"role": string(role)},
	}
	var out AuthResult
	err := p.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", body, &out)
	return out, err
}

// SignIn exchanges email and password for an access token.
func (p *ProviderClient) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out AuthResult
	err := p.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}}, "", body, &out)
	return out, err
}

func (p *ProviderClient) do(ctx context.Context, method, path string, query url.Values, token string, in, out any) error {
	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider status %d", ErrUnavailable, resp.StatusCode)
	}

	var perr providerError
	_ = json.Unmarshal(data, &perr)
	if perr.ErrorCode == "user_already_exists" || strings.Contains(strings.ToLower(perr.Message), "already registered") {
		return ErrAlreadyRegistered
	}
	msg := perr.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return unauthenticated(fmt.Sprintf("provider status %d: %s", resp.StatusCode, msg))
}
