package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coachlink.app/internal/app"
	"coachlink.app/internal/migrate"
	"coachlink.app/internal/obs"
	"coachlink.app/internal/policy"
	"coachlink.app/internal/store/pg"
	"coachlink.app/migrations"
)

// Flags are persistent so they work after any subcommand.
var (
	dsn        string
	timeout    time.Duration
	policyFile string
)

// errDrift makes `policies verify` exit non-zero without a second message.
var errDrift = errors.New("policy drift detected")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errDrift) {
			fmt.Fprintln(os.Stderr, "migrate:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the coachlink schema and row level security policies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to COACHLINK_DATABASE_URL)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Overall deadline for the command")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withDB(func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
				applied, err := migrate.NewManager(db, migrations.FS).Up(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
				name, err := migrate.NewManager(db, migrations.FS).Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: withDB(func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
				history, err := migrate.NewManager(db, migrations.FS).Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}),
		},
		newPoliciesCommand(),
	)
	return root
}

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Render, apply or verify the row level security policy set",
	}
	cmd.PersistentFlags().StringVar(&policyFile, "file", "", "Policy document to use instead of the embedded one")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "render",
			Short: "Print the SQL for the policy set",
			RunE: func(cmd *cobra.Command, _ []string) error {
				set, err := loadPolicies()
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), policy.Render(set))
				return nil
			},
		},
		&cobra.Command{
			Use:   "apply",
			Short: "Install the policy set",
			RunE: withDB(func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
				set, err := loadPolicies()
				if err != nil {
					return err
				}
				if err := policy.Apply(ctx, db, set); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied policy set v%d (%s)\n", set.Version, policy.Checksum(set)[:12])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Compare the live catalog with the policy set",
			RunE: withDB(func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
				set, err := loadPolicies()
				if err != nil {
					return err
				}
				drift, err := policy.Verify(ctx, db, set)
				if err != nil {
					return err
				}
				for _, d := range drift {
					fmt.Fprintln(cmd.OutOrStdout(), "drift:", d)
				}
				if len(drift) > 0 {
					return errDrift
				}
				fmt.Fprintf(cmd.OutOrStdout(), "policies match v%d\n", set.Version)
				return nil
			}),
		},
	)
	return cmd
}

func loadPolicies() (policy.Set, error) {
	if policyFile == "" {
		return policy.Load()
	}
	data, err := os.ReadFile(policyFile)
	if err != nil {
		return policy.Set{}, err
	}
	return policy.Parse(data)
}

// withDB opens the pool for the duration of fn under the --timeout deadline.
func withDB(fn func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := app.Setup("coachlink-migrate")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if timeout <= 0 {
			return fmt.Errorf("invalid --timeout %s", timeout)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		target := dsn
		if target == "" {
			target = cfg.DatabaseURL
		}
		db, err := pg.Open(ctx, target, pg.PoolOptions{MaxOpen: 2, MaxIdle: 1, MaxLifetime: time.Minute, MaxIdleTime: time.Minute})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		obs.L(ctx).Debug("database opened", zap.String("command", cmd.CommandPath()))
		return fn(ctx, cmd, db)
	}
}
