// Package gateway is the only path from request handling to tenant data. Each
// operation runs in its own transaction with the caller's verified claims bound
// to it, so the database's row level security decides what the caller can see
// or write.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"coachlink.app/internal/audit"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

const (
	DefaultTenantRole   = "coachlink_authenticated"
	DefaultAdminRole    = "coachlink_admin"
	DefaultQueryTimeout = 5 * time.Second
	DefaultListLimit    = 200
)

// bindSQL switches the transaction into role $1 and publishes the claims that
// policies read. All three settings are transaction-local.
const bindSQL = `select set_config('role', $1, true), set_config('request.jwt.claims', $2, true), set_config('request.jwt.claim.sub', $3, true)`

// Resolver turns a credential into a verified principal.
type Resolver interface {
	Resolve(ctx context.Context, cred identity.Credential) (identity.Principal, error)
}

// Options tunes a Factory.
type Options struct {
	QueryTimeout time.Duration
	ListLimit    int
	TenantRole   string
	AdminRole    string
	// AllowService enables ForService. Off unless a deployment needs the admin path.
	AllowService bool
}

// Factory hands out gateways bound to one caller each. It holds the shared pool
// and nothing per-tenant.
type Factory struct {
	db       *sql.DB
	resolver Resolver
	opts     Options
}

// NewFactory returns a factory over db. resolver may be nil when only Bind is used.
func NewFactory(db *sql.DB, resolver Resolver, opts Options) (*Factory, error) {
	if db == nil {
		return nil, errors.New("gateway: db is required")
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.TenantRole == "" {
		opts.TenantRole = DefaultTenantRole
	}
	if opts.AdminRole == "" {
		opts.AdminRole = DefaultAdminRole
	}
	return &Factory{db: db, resolver: resolver, opts: opts}, nil
}

// ForCaller resolves cred and returns a gateway bound to the verified caller.
// Resolution failures are returned unchanged; no gateway exists without a caller.
func (f *Factory) ForCaller(ctx context.Context, cred identity.Credential) (*Gateway, error) {
	if f.resolver == nil {
		return nil, errors.New("gateway: no credential resolver configured")
	}
	p, err := f.resolver.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}
	return f.Bind(p)
}

// Bind returns a gateway for an already verified principal.
func (f *Factory) Bind(p identity.Principal) (*Gateway, error) {
	if p.Caller.IsZero() {
		return nil, fmt.Errorf("%w: no caller", identity.ErrUnauthenticated)
	}
	claims := p.Claims
	if claims.Subject == "" {
		claims.Subject = p.Caller.ID
	}
	if claims.Subject != p.Caller.ID {
		return nil, fmt.Errorf("%w: claims subject does not match caller", identity.ErrUnauthenticated)
	}
	if claims.Role == "" {
		claims.Role = "authenticated"
	}
	if claims.AppMetadata.Role == "" {
		claims.AppMetadata.Role = string(p.Caller.Role)
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode claims: %w", err)
	}
	return &Gateway{
		session: session{
			db:      f.db,
			role:    f.opts.TenantRole,
			claims:  string(raw),
			subject: p.Caller.ID,
			timeout: f.opts.QueryTimeout,
		},
		caller: p.Caller,
		limit:  f.opts.ListLimit,
	}, nil
}

// ForService returns the administrative gateway. It is refused unless enabled,
// requires a reason, and every bind is audited.
func (f *Factory) ForService(ctx context.Context, reason string) (*AdminGateway, error) {
	if !f.opts.AllowService {
		return nil, ErrServiceDisabled
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New("gateway: service access requires a reason")
	}
	if err := audit.LogEvent(ctx, "gateway.service.bind", map[string]string{"reason": reason}); err != nil {
		return nil, err
	}
	return &AdminGateway{
		session: session{
			db:      f.db,
			role:    f.opts.AdminRole,
			claims:  "{}",
			timeout: f.opts.QueryTimeout,
		},
		reason: reason,
	}, nil
}

// Gateway performs tenant-scoped operations for one caller.
type Gateway struct {
	session
	caller identity.Caller
	limit  int
}

// Caller returns the identity this gateway is bound to.
func (g *Gateway) Caller() identity.Caller {
	return g.caller
}

// stamp overwrites provenance on rec with this gateway's caller.
func (g *Gateway) stamp(ctx context.Context, rec audit.Provenanced) error {
	return audit.Stamp(identity.ContextWithCaller(ctx, g.caller), rec)
}

// session is one database identity: role plus claims, applied per transaction.
type session struct {
	db      *sql.DB
	role    string
	claims  string
	subject string
	timeout time.Duration
}

// tx runs fn in a transaction bound to the session. Errors come back classified.
func (s *session) tx(ctx context.Context, resource, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	start := time.Now()
	ctx, span := obs.StartSpan(ctx, "gateway."+resource+"."+op)
	defer span.End()
	span.SetAttributes(attribute.String("db.role", s.role), attribute.String("coachlink.resource", resource))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.run(ctx, fn)
	if err != nil && ctx.Err() != nil {
		// Drivers report an expired deadline in several shapes.
		err = fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	err = classify(err)
	result := resultLabel(err)
	obs.ObserveGatewayOp(resource, op, result, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if result == "error" || result == "unavailable" {
			obs.L(ctx).Warn("gateway operation failed",
				zap.String("resource", resource), zap.String("op", op), zap.Error(err))
		}
	}
	return err
}

func (s *session) run(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, bindSQL, s.role, s.claims, s.subject); err != nil {
		return fmt.Errorf("bind claims: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// affectedOne turns a zero-row write into ErrNotFound.
func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}
