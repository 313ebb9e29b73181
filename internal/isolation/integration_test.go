//go:build integration

package isolation_test

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/idp"
	"coachlink.app/internal/isolation"
	"coachlink.app/internal/migrate"
	"coachlink.app/internal/policy"
	"coachlink.app/internal/store/pg"
	"coachlink.app/migrations"
)

const integrationSecret = "integration-secret-0123456789abcdef"

// TestHarnessAgainstPostgres runs the full gate against real row level security.
// Run with: go test -tags=integration -timeout 180s ./internal/isolation/...
func TestHarnessAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("coachlink"),
		postgres.WithUsername("coachlink"),
		postgres.WithPassword("coachlink"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := pg.Open(ctx, dsn, pg.PoolOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := migrate.NewManager(db, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	set, err := policy.Load()
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}
	if err := policy.Apply(ctx, db, set); err != nil {
		t.Fatalf("apply policies: %v", err)
	}
	drift, err := policy.Verify(ctx, db, set)
	if err != nil {
		t.Fatalf("verify policies: %v", err)
	}
	if len(drift) > 0 {
		t.Fatalf("policy drift after apply: %v", drift)
	}

	svc, err := idp.NewService(idp.NewPGStore(db), []byte(integrationSecret))
	if err != nil {
		t.Fatalf("idp: %v", err)
	}
	srv := httptest.NewServer(idp.Router(svc, "anon-key"))
	t.Cleanup(srv.Close)

	provider, err := identity.NewProviderClient(srv.URL, "anon-key", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	verifier, err := identity.NewJWTVerifier([]byte(integrationSecret),
		identity.WithIssuer("coachlink-idp"), identity.WithAudience("authenticated"))
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	resolver, err := identity.NewResolver(verifier, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	factory, err := gateway.NewFactory(db, resolver, gateway.Options{AllowService: true})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	admin, err := factory.ForService(ctx, "isolation integration test")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}

	// The second run hits already registered accounts.
	for run := 0; run < 2; run++ {
		h, err := isolation.New(isolation.Config{
			Accounts: provider,
			Connect:  isolation.GatewayConnector(factory),
			Admin:    admin,
			Policies: isolation.PolicyVerifier(db, set),
			Domain:   "isolation.test",
			Password: "integration-password",
		})
		if err != nil {
			t.Fatalf("harness: %v", err)
		}
		rep, err := h.Run(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if !rep.Passed() {
			_ = rep.WriteText(os.Stderr)
			t.Fatalf("run %d: isolation failed", run)
		}
		if len(rep.CleanupErrors) > 0 {
			t.Fatalf("run %d: cleanup errors: %v", run, rep.CleanupErrors)
		}
	}

	// Cleanup went through tenant gateways, so nothing is left behind.
	var left int
	err = db.QueryRowContext(ctx, `select
		(select count(*) from clients) + (select count(*) from messages) +
		(select count(*) from device_integrations) + (select count(*) from weight_logs) +
		(select count(*) from workout_assignments)`).Scan(&left)
	if err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if left != 0 {
		t.Fatalf("%d rows left after cleanup", left)
	}
}
