package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore maps legacy session ids to access tokens.
type SessionStore interface {
	Lookup(ctx context.Context, id string) (string, error)
}

// RedisSessions keeps sessions in Redis under a key prefix with a TTL.
type RedisSessions struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSessions returns a store using rdb. ttl caps every session's lifetime.
func NewRedisSessions(rdb redis.UniversalClient, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisSessions{rdb: rdb, prefix: "coachlink:session:", ttl: ttl}
}

// OpenRedis parses url, connects and pings within two seconds.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("identity: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("identity: ping redis: %w", err)
	}
	return client, nil
}

// Create stores token under a new random session id. The session never outlives
// the token: expiresAt, when set and earlier than the store TTL, wins.
func (s *RedisSessions) Create(ctx context.Context, token string, expiresAt time.Time) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("identity: empty session token")
	}
	ttl := s.ttl
	if !expiresAt.IsZero() {
		if left := time.Until(expiresAt); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return "", unauthenticated("token already expired")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := base64.RawURLEncoding.EncodeToString(buf)
	if err := s.rdb.Set(ctx, s.prefix+id, token, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Lookup returns the token for id. Unknown or expired sessions are unauthenticated.
func (s *RedisSessions) Lookup(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", unauthenticated("empty session id")
	}
	token, err := s.rdb.Get(ctx, s.prefix+id).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", unauthenticated("unknown session")
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// Revoke deletes the session. Revoking an unknown session is not an error.
func (s *RedisSessions) Revoke(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
