// Package app wires configuration into the shared process dependencies used by
// the binaries under cmd/.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coachlink.app/internal/config"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
	"coachlink.app/internal/store/pg"
)

// Setup loads configuration and installs the process logger. Insecure
// defaults are logged one by one; in production Load already refused them.
func Setup(service string) (config.Config, *zap.Logger, error) {
	cfg, warnings, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := obs.InitLogger(obs.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		Service:     service,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("insecure configuration", zap.String("key", w.Key), zap.String("detail", w.Message))
	}
	return cfg, logger, nil
}

// OpenDB opens the shared pool.
func OpenDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := pg.Open(ctx, cfg.DatabaseURL, pg.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Verifier picks the token verifier for the configured identity mode.
func Verifier(cfg config.Config) (identity.Verifier, error) {
	if cfg.IdentityMode == config.IdentityModeProvider {
		p, err := identity.NewProviderClient(cfg.IdentityURL, cfg.IdentityAPIKey, nil, cfg.IdentityTimeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	v, err := identity.NewJWTVerifier([]byte(cfg.JWTSecret),
		identity.WithIssuer(cfg.JWTIssuer),
		identity.WithAudience(cfg.JWTAudience))
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Identity holds the credential resolver and, when Redis is configured, the
// session store behind it.
type Identity struct {
	Resolver *identity.Resolver
	Sessions *identity.RedisSessions

	rdb *redis.Client
}

// Close releases the Redis connection, if any.
func (i *Identity) Close() error {
	if i.rdb == nil {
		return nil
	}
	return i.rdb.Close()
}

// NewIdentity builds the resolver. Session credentials are accepted only when
// cfg.RedisURL is set.
func NewIdentity(ctx context.Context, cfg config.Config) (*Identity, error) {
	v, err := Verifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity verifier: %w", err)
	}
	out := &Identity{}
	var store identity.SessionStore
	if cfg.RedisURL != "" {
		rdb, err := identity.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		out.rdb = rdb
		out.Sessions = identity.NewRedisSessions(rdb, cfg.SessionTTL)
		store = out.Sessions
	}
	out.Resolver, err = identity.NewResolver(v, store)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}
