// Package isolation is the pre-deploy gate that proves tenants cannot see or
// write each other's data. It signs real accounts up with the identity
// provider, drives the data gateway as each of them, and reports every probe.
// Any probe that does not pass blocks the deployment.
package isolation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/ids"
	"coachlink.app/internal/obs"
	"coachlink.app/internal/policy"
)

// tagPattern keeps "isolation-w-<tag>" within the integration provider format.
var tagPattern = regexp.MustCompile(`^[a-z0-9_-]{1,28}$`)

// Accounts is the identity provider as seen by the harness.
type Accounts interface {
	SignUp(ctx context.Context, email, password string, role identity.Role) (identity.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (identity.AuthResult, error)
}

// Tenant is the slice of the data gateway the probes drive.
type Tenant interface {
	Caller() identity.Caller

	ListClients(ctx context.Context) ([]gateway.Client, error)
	GetClient(ctx context.Context, id string) (gateway.Client, error)
	CreateClient(ctx context.Context, in gateway.NewClient) (gateway.Client, error)
	UpdateClientNotes(ctx context.Context, id, notes string) (gateway.Client, error)
	DeleteClient(ctx context.Context, id string) error

	ListMessages(ctx context.Context) ([]gateway.Message, error)
	SendMessage(ctx context.Context, in gateway.NewMessage) (gateway.Message, error)
	MarkMessageRead(ctx context.Context, id string) (gateway.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	ListIntegrations(ctx context.Context) ([]gateway.Integration, error)
	UpsertIntegration(ctx context.Context, in gateway.NewIntegration) (gateway.Integration, error)
	DeleteIntegration(ctx context.Context, provider string) error

	ListWeightLogs(ctx context.Context) ([]gateway.WeightLog, error)
	CreateWeightLog(ctx context.Context, in gateway.NewWeightLog) (gateway.WeightLog, error)
	DeleteWeightLog(ctx context.Context, id string) error

	ListWorkoutAssignments(ctx context.Context) ([]gateway.WorkoutAssignment, error)
	AssignWorkout(ctx context.Context, in gateway.NewWorkoutAssignment) (gateway.WorkoutAssignment, error)
	DeleteWorkoutAssignment(ctx context.Context, id string) error
}

var _ Tenant = (*gateway.Gateway)(nil)

// Connector opens a tenant gateway for a credential.
type Connector func(ctx context.Context, cred identity.Credential) (Tenant, error)

// GatewayConnector connects through a gateway factory.
func GatewayConnector(f *gateway.Factory) Connector {
	return func(ctx context.Context, cred identity.Credential) (Tenant, error) {
		g, err := f.ForCaller(ctx, cred)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

// PolicyCheck lists every difference between the live row level security
// catalog and the declared policy set.
type PolicyCheck func(ctx context.Context) ([]string, error)

// PolicyVerifier checks the catalog behind db against set.
func PolicyVerifier(db *sql.DB, set policy.Set) PolicyCheck {
	return func(ctx context.Context) ([]string, error) {
		drift, err := policy.Verify(ctx, db, set)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(drift))
		for _, d := range drift {
			out = append(out, d.String())
		}
		return out, nil
	}
}

// Admin links fixture profiles to client accounts.
type Admin interface {
	LinkClientAccount(ctx context.Context, clientID, userID string) (gateway.Client, error)
}

var _ Admin = (*gateway.AdminGateway)(nil)

// Config wires a Harness.
type Config struct {
	Accounts Accounts
	Connect  Connector
	Admin    Admin
	// Policies runs before any account is touched. Drift fails the run even
	// when every probe passes.
	Policies PolicyCheck
	// Domain is the e-mail domain of the harness accounts. The local parts are
	// fixed so that re-runs reuse the same accounts.
	Domain   string
	Password string
	// Tag makes this run's marker values unique. Generated when empty.
	Tag string
	// CleanupTimeout bounds the deletion of marker rows after the probes.
	CleanupTimeout time.Duration
}

// Harness runs the probes. It is single use: create one per run.
type Harness struct {
	cfg Config
	tag string

	coachA, coachB, clientA, clientB *account

	cleanups []cleanup
}

type account struct {
	name   string
	email  string
	role   identity.Role
	user   identity.ProviderUser
	token  string
	tenant Tenant
}

func (a *account) id() string { return a.user.ID }

type cleanup struct {
	what string
	fn   func(ctx context.Context) error
}

// New validates cfg and returns a harness.
func New(cfg Config) (*Harness, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, errors.New("isolation: accounts client is required")
	case cfg.Connect == nil:
		return nil, errors.New("isolation: connector is required")
	case cfg.Admin == nil:
		return nil, errors.New("isolation: admin gateway is required for fixtures")
	case cfg.Policies == nil:
		return nil, errors.New("isolation: policy check is required")
	case strings.TrimSpace(cfg.Domain) == "":
		return nil, errors.New("isolation: account domain is required")
	case len(cfg.Password) < 8:
		return nil, errors.New("isolation: password must be at least 8 characters")
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	tag := strings.ToLower(strings.TrimSpace(cfg.Tag))
	if tag == "" {
		tag = ids.Tag()
	}
	if !tagPattern.MatchString(tag) {
		return nil, fmt.Errorf("isolation: tag %q must match %s", tag, tagPattern)
	}
	return &Harness{cfg: cfg, tag: tag}, nil
}

// Tag returns the marker tag of this run.
func (h *Harness) Tag() string { return h.tag }

// Run provisions accounts, runs every probe and cleans up. The error is
// non-nil only when the run could not start; probe failures are in the report.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	ctx, span := obs.StartSpan(ctx, "isolation.run")
	defer span.End()

	rep := &Report{Tag: h.tag, StartedAt: time.Now().UTC()}
	rep.add(h.checkPolicies(ctx))
	if err := h.Provision(ctx); err != nil {
		return nil, err
	}
	log := obs.L(ctx).With(zap.String("tag", h.tag))
	log.Info("isolation accounts ready",
		zap.String("coach_a", h.coachA.id()), zap.String("coach_b", h.coachB.id()),
		zap.String("client_a", h.clientA.id()), zap.String("client_b", h.clientB.id()))

	fx, err := h.wireFixtures(ctx)
	if err != nil {
		rep.add(Finding{
			Probe:    "fixtures",
			Resource: "clients",
			Outcome:  Inconclusive,
			Details:  []string{err.Error()},
		})
	}
	for _, p := range h.probes() {
		var f Finding
		if p.needsFixtures && fx == nil {
			f = newFinding(p)
			f.mark(Inconclusive, "fixtures unavailable")
		} else {
			f = h.runProbe(ctx, p, fx)
		}
		rep.add(f)
		log.Info("isolation probe", zap.String("probe", f.Probe), zap.String("outcome", string(f.Outcome)))
	}

	rep.CleanupErrors = h.cleanup(ctx)
	rep.FinishedAt = time.Now().UTC()
	return rep, nil
}

func (h *Harness) checkPolicies(ctx context.Context) Finding {
	ctx, span := obs.StartSpan(ctx, "isolation.policies")
	defer span.End()
	f := Finding{Probe: "policies", Resource: "catalog", Outcome: Pass}
	drift, err := h.cfg.Policies(ctx)
	if err != nil {
		f.mark(Inconclusive, "verify policies: %v", err)
		return f
	}
	for _, d := range drift {
		f.mark(Drift, "%s", d)
	}
	obs.L(ctx).Info("isolation policies", zap.String("tag", h.tag), zap.Int("drift", len(drift)))
	return f
}

func (h *Harness) runProbe(ctx context.Context, p probe, fx *fixtures) Finding {
	ctx, span := obs.StartSpan(ctx, "isolation.probe."+p.name)
	defer span.End()
	f := newFinding(p)
	p.run(ctx, h, fx, &f)
	return f
}

// later registers a deletion to run after all probes, newest first.
func (h *Harness) later(what string, fn func(ctx context.Context) error) {
	h.cleanups = append(h.cleanups, cleanup{what: what, fn: fn})
}

func (h *Harness) cleanup(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.CleanupTimeout)
	defer cancel()

	var failed []string
	for i := len(h.cleanups) - 1; i >= 0; i-- {
		c := h.cleanups[i]
		if err := c.fn(ctx); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			msg := fmt.Sprintf("%s: %v", c.what, err)
			failed = append(failed, msg)
			obs.L(ctx).Warn("isolation cleanup failed", zap.String("tag", h.tag), zap.String("what", c.what), zap.Error(err))
		}
	}
	h.cleanups = nil
	return failed
}

// marker builds a unique marker value for this run.
func (h *Harness) marker(label string) string {
	return label + " " + h.tag
}
