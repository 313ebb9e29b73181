// Command isolation-check verifies the row level security catalog against the
// policy set, provisions two coaches and two clients, runs the cross-tenant
// probes against the live data store and exits non-zero on any failure. It is
// meant to gate deployments.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coachlink.app/internal/app"
	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/isolation"
	"coachlink.app/internal/policy"
	"coachlink.app/internal/store/pg"
)

const (
	identityURLFlag = "identity-url"
	apiKeyFlag      = "api-key"
	domainFlag      = "domain"
	tagFlag         = "tag"
	formatFlag      = "format"
	policyDSNFlag   = "policy-dsn"
)

var flags = map[string]cobraflags.Flag{
	identityURLFlag: &cobraflags.StringFlag{
		Name:  identityURLFlag,
		Value: "",
		Usage: "Identity provider base URL (defaults to COACHLINK_IDENTITY_URL)",
	},
	apiKeyFlag: &cobraflags.StringFlag{
		Name:  apiKeyFlag,
		Value: "",
		Usage: "Identity provider API key (defaults to COACHLINK_IDENTITY_API_KEY)",
	},
	domainFlag: &cobraflags.StringFlag{
		Name:  domainFlag,
		Value: "",
		Usage: "E-mail domain of the harness accounts (defaults to COACHLINK_HARNESS_DOMAIN)",
	},
	tagFlag: &cobraflags.StringFlag{
		Name:  tagFlag,
		Value: "",
		Usage: "Marker tag for this run, 1-28 of [a-z0-9_-]; generated when empty",
	},
	policyDSNFlag: &cobraflags.StringFlag{
		Name:  policyDSNFlag,
		Value: "",
		Usage: "DSN of the schema owner for the policy check (defaults to COACHLINK_DATABASE_URL)",
	},
	formatFlag: &cobraflags.StringFlag{
		Name:  formatFlag,
		Value: "text",
		Usage: "Report format: text or json",
	},
}

// errFailed signals a completed run with failures; the report already says why.
var errFailed = errors.New("isolation check failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cobra.Command{
		Use:           "isolation-check",
		Short:         "Verify that tenants cannot read or forge each other's data",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          run,
	}
	cobraflags.RegisterMap(cmd, flags)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "isolation-check:", err)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	format := flags[formatFlag].GetString()
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown --%s %q", formatFlag, format)
	}

	cfg, logger, err := app.Setup("coachlink-isolation-check")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if v := flags[identityURLFlag].GetString(); v != "" {
		cfg.IdentityURL = v
	}
	if v := flags[apiKeyFlag].GetString(); v != "" {
		cfg.IdentityAPIKey = v
	}
	domain := cfg.HarnessDomain
	if v := flags[domainFlag].GetString(); v != "" {
		domain = v
	}

	ctx := cmd.Context()
	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ident, err := app.NewIdentity(ctx, cfg)
	if err != nil {
		return err
	}
	defer ident.Close()

	provider, err := identity.NewProviderClient(cfg.IdentityURL, cfg.IdentityAPIKey, nil, cfg.IdentityTimeout)
	if err != nil {
		return err
	}
	factory, err := gateway.NewFactory(db, ident.Resolver, gateway.Options{
		QueryTimeout: cfg.QueryTimeout,
		AllowService: true,
	})
	if err != nil {
		return err
	}
	admin, err := factory.ForService(ctx, "isolation check fixtures")
	if err != nil {
		return err
	}

	set, err := policy.Load()
	if err != nil {
		return err
	}
	policyDB := db
	if v := flags[policyDSNFlag].GetString(); v != "" {
		policyDB, err = pg.Open(ctx, v, pg.PoolOptions{MaxOpen: 1, MaxIdle: 1, MaxLifetime: time.Minute, MaxIdleTime: time.Minute})
		if err != nil {
			return fmt.Errorf("open policy database: %w", err)
		}
		defer policyDB.Close()
	}

	h, err := isolation.New(isolation.Config{
		Accounts:       provider,
		Connect:        isolation.GatewayConnector(factory),
		Admin:          admin,
		Policies:       isolation.PolicyVerifier(policyDB, set),
		Domain:         domain,
		Password:       cfg.HarnessPassword,
		Tag:            flags[tagFlag].GetString(),
		CleanupTimeout: time.Minute,
	})
	if err != nil {
		return err
	}
	logger.Info("isolation check starting", zap.String("tag", h.Tag()), zap.String("domain", domain),
		zap.String("identity_mode", cfg.IdentityMode), zap.Int("policy_version", set.Version))

	rep, err := h.Run(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if format == "json" {
		err = rep.WriteJSON(out)
	} else {
		err = rep.WriteText(out)
	}
	if err != nil {
		return err
	}
	for _, cerr := range rep.CleanupErrors {
		logger.Warn("cleanup left data behind", zap.String("error", cerr))
	}
	if !rep.Passed() {
		return errFailed
	}
	return nil
}
