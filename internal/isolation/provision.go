package isolation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

// Provision signs up Coach A/B and Client A/B, or signs them in when they
// already exist, and opens a gateway for each. Any other failure is fatal.
func (h *Harness) Provision(ctx context.Context) error {
	accounts := []*account{
		{name: "coach-a", role: identity.RoleCoach},
		{name: "coach-b", role: identity.RoleCoach},
		{name: "client-a", role: identity.RoleClient},
		{name: "client-b", role: identity.RoleClient},
	}
	for _, a := range accounts {
		a.email = fmt.Sprintf("isolation-%s@%s", a.name, h.cfg.Domain)
		if err := h.provision(ctx, a); err != nil {
			return fmt.Errorf("isolation: provision %s: %w", a.name, err)
		}
	}
	h.coachA, h.coachB, h.clientA, h.clientB = accounts[0], accounts[1], accounts[2], accounts[3]

	seen := map[string]string{}
	for _, a := range accounts {
		if other, dup := seen[a.id()]; dup {
			return fmt.Errorf("isolation: %s and %s resolved to the same identity", other, a.name)
		}
		seen[a.id()] = a.name
	}
	return nil
}

func (h *Harness) provision(ctx context.Context, a *account) error {
	res, err := h.cfg.Accounts.SignUp(ctx, a.email, h.cfg.Password, a.role)
	if errors.Is(err, identity.ErrAlreadyRegistered) {
		obs.L(ctx).Info("isolation account exists, signing in", zap.String("account", a.name))
		res, err = h.cfg.Accounts.SignIn(ctx, a.email, h.cfg.Password)
	}
	if err != nil {
		return err
	}
	if res.AccessToken == "" || res.User.ID == "" {
		return errors.New("identity provider returned no session")
	}
	a.user, a.token = res.User, res.AccessToken

	t, err := h.cfg.Connect(ctx, identity.BearerToken(a.token))
	if err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	c := t.Caller()
	if c.ID != a.user.ID {
		return fmt.Errorf("gateway bound to %q, provider says %q", c.ID, a.user.ID)
	}
	if c.Role != a.role {
		return fmt.Errorf("account has role %q, want %q", c.Role, a.role)
	}
	a.tenant = t
	return nil
}

// fixtures are the coach/client relationships the probes rely on.
type fixtures struct {
	profileA gateway.Client
	profileB gateway.Client
}

// wireFixtures has each coach create a profile and the admin path link it to
// the matching client account.
func (h *Harness) wireFixtures(ctx context.Context) (*fixtures, error) {
	link := func(coach, client *account) (gateway.Client, error) {
		row, err := coach.tenant.CreateClient(ctx, gateway.NewClient{
			FullName: h.marker("isolation fixture " + client.name),
			Email:    client.email,
		})
		if err != nil {
			return gateway.Client{}, fmt.Errorf("%s create profile: %w", coach.name, err)
		}
		h.later(coach.name+" delete fixture profile", func(ctx context.Context) error {
			return coach.tenant.DeleteClient(ctx, row.ID)
		})
		linked, err := h.cfg.Admin.LinkClientAccount(ctx, row.ID, client.id())
		if err != nil {
			return gateway.Client{}, fmt.Errorf("link %s to %s: %w", client.name, coach.name, err)
		}
		if linked.UserID != client.id() || linked.CoachID != coach.id() {
			return gateway.Client{}, fmt.Errorf("link %s to %s: profile is %+v", client.name, coach.name, linked)
		}
		return linked, nil
	}

	a, err := link(h.coachA, h.clientA)
	if err != nil {
		return nil, err
	}
	b, err := link(h.coachB, h.clientB)
	if err != nil {
		return nil, err
	}
	return &fixtures{profileA: a, profileB: b}, nil
}
