package policy

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Drift is one difference between the live database and the set.
type Drift struct {
	Table   string
	Policy  string
	Problem string
}

func (d Drift) String() string {
	if d.Policy != "" {
		return fmt.Sprintf("%s/%s: %s", d.Table, d.Policy, d.Problem)
	}
	return d.Table + ": " + d.Problem
}

type liveTable struct {
	rls, force, tenantAccess bool
}

type livePolicy struct {
	table, cmd, roles string
	using, check      string
}

// Verify compares the catalog with s. An empty result means the database
// enforces exactly the rules in s.
//
// Expressions are compared in the form Postgres stores them. The expected form
// is obtained by installing s inside a transaction that is always rolled back,
// so the connection needs the same privileges as Apply.
func Verify(ctx context.Context, db *sql.DB, s Set) ([]Drift, error) {
	tables, err := loadTables(ctx, db, s.Roles.Tenant)
	if err != nil {
		return nil, err
	}
	policies, err := loadPolicies(ctx, db)
	if err != nil {
		return nil, err
	}

	var drift []Drift
	managed := map[string]bool{}
	complete := true
	for _, t := range s.Tables {
		managed[t.Name] = true
		lt, ok := tables[t.Name]
		switch {
		case !ok:
			drift = append(drift, Drift{Table: t.Name, Problem: "table missing"})
			complete = false
			continue
		case !lt.rls:
			drift = append(drift, Drift{Table: t.Name, Problem: "row level security disabled"})
		case !lt.force:
			drift = append(drift, Drift{Table: t.Name, Problem: "row level security not forced"})
		}
	}
	for name, lt := range tables {
		if !managed[name] && lt.tenantAccess {
			drift = append(drift, Drift{Table: name, Problem: "tenant role has access to a table outside the policy set"})
		}
	}

	// A missing table makes the set impossible to install; that is already drift.
	var expected map[string]livePolicy
	if complete {
		if expected, err = renderedPolicies(ctx, db, s); err != nil {
			return nil, err
		}
	}

	want := map[string]Policy{}
	for _, p := range s.Policies() {
		want[p.Table+"/"+p.Name] = p
		lp, ok := policies[p.Table+"/"+p.Name]
		if !ok {
			drift = append(drift, Drift{Table: p.Table, Policy: p.Name, Problem: "policy missing"})
			continue
		}
		if lp.cmd != strings.ToUpper(p.Command) {
			drift = append(drift, Drift{Table: p.Table, Policy: p.Name, Problem: fmt.Sprintf("command is %s, want %s", lp.cmd, strings.ToUpper(p.Command))})
		}
		if lp.roles != p.Role {
			drift = append(drift, Drift{Table: p.Table, Policy: p.Name, Problem: fmt.Sprintf("granted to %s, want %s", lp.roles, p.Role)})
		}
		if ep, ok := expected[p.Table+"/"+p.Name]; ok {
			if lp.using != ep.using {
				drift = append(drift, Drift{Table: p.Table, Policy: p.Name, Problem: fmt.Sprintf("using expression is %q, want %q", lp.using, ep.using)})
			}
			if lp.check != ep.check {
				drift = append(drift, Drift{Table: p.Table, Policy: p.Name, Problem: fmt.Sprintf("with check expression is %q, want %q", lp.check, ep.check)})
			}
		}
	}
	for key, lp := range policies {
		if _, ok := want[key]; !ok && managed[lp.table] {
			name := strings.TrimPrefix(key, lp.table+"/")
			drift = append(drift, Drift{Table: lp.table, Policy: name, Problem: "policy not in set"})
		}
	}

	var applied sql.NullInt64
	if err := db.QueryRowContext(ctx, `select max(version) from policy_versions`).Scan(&applied); err != nil {
		return nil, fmt.Errorf("policy: read applied version: %w", err)
	}
	if !applied.Valid || int(applied.Int64) != s.Version {
		drift = append(drift, Drift{Table: "policy_versions", Problem: fmt.Sprintf("applied version %d, want %d", applied.Int64, s.Version)})
	}

	sort.Slice(drift, func(i, j int) bool { return drift[i].String() < drift[j].String() })
	return drift, nil
}

func loadTables(ctx context.Context, db *sql.DB, tenantRole string) (map[string]liveTable, error) {
	rows, err := db.QueryContext(ctx, `
		select c.relname, c.relrowsecurity, c.relforcerowsecurity,
		       has_table_privilege($1, c.oid, 'select, insert, update, delete')
		from pg_class c
		join pg_namespace n on n.oid = c.relnamespace
		where n.nspname = 'public' and c.relkind in ('r', 'p')`, tenantRole)
	if err != nil {
		return nil, fmt.Errorf("policy: read tables: %w", err)
	}
	defer rows.Close()
	out := map[string]liveTable{}
	for rows.Next() {
		var name string
		var lt liveTable
		if err := rows.Scan(&name, &lt.rls, &lt.force, &lt.tenantAccess); err != nil {
			return nil, err
		}
		out[name] = lt
	}
	return out, rows.Err()
}

const policiesQuery = `
	select tablename, policyname, cmd, array_to_string(roles, ','),
	       coalesce(qual, ''), coalesce(with_check, '')
	from pg_policies
	where schemaname = 'public'`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadPolicies(ctx context.Context, q querier) (map[string]livePolicy, error) {
	rows, err := q.QueryContext(ctx, policiesQuery)
	if err != nil {
		return nil, fmt.Errorf("policy: read policies: %w", err)
	}
	defer rows.Close()
	out := map[string]livePolicy{}
	for rows.Next() {
		var name string
		var lp livePolicy
		if err := rows.Scan(&lp.table, &name, &lp.cmd, &lp.roles, &lp.using, &lp.check); err != nil {
			return nil, err
		}
		out[lp.table+"/"+name] = lp
	}
	return out, rows.Err()
}

// renderedPolicies installs s in a transaction, reads the catalog back and
// rolls back. Nothing it does is ever committed.
func renderedPolicies(ctx context.Context, db *sql.DB, s Set) (map[string]livePolicy, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range Statements(s) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("policy: render expressions: %w", err)
		}
	}
	out, err := loadPolicies(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Rollback(); err != nil {
		return nil, fmt.Errorf("policy: discard rendered set: %w", err)
	}
	return out, nil
}
