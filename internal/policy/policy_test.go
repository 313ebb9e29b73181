package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
)

func TestEmbeddedSetIsValid(t *testing.T) {
	c := qt.New(t)

	s, err := Load()
	c.Assert(err, qt.IsNil)
	c.Assert(s.Version >= 1, qt.IsTrue)
	for _, name := range []string{"clients", "messages", "device_integrations", "weight_logs", "workout_assignments"} {
		_, ok := s.Table(name)
		c.Assert(ok, qt.IsTrue, qt.Commentf("table %s missing from policy set", name))
	}
}

func TestEmbeddedTenantPoliciesAreCallerScoped(t *testing.T) {
	c := qt.New(t)

	s, err := Load()
	c.Assert(err, qt.IsNil)
	for _, p := range s.Policies() {
		if p.Role != s.Roles.Tenant {
			continue
		}
		c.Assert(p.Using+p.Check, qt.Contains, s.Subject, qt.Commentf("policy %s", p.Name))
	}
}

func TestAdminGrantsAreExplicitAndNarrow(t *testing.T) {
	c := qt.New(t)

	s, err := Load()
	c.Assert(err, qt.IsNil)
	var admin []string
	for _, p := range s.Policies() {
		if p.Role == s.Roles.Admin {
			admin = append(admin, p.Name)
		}
	}
	c.Assert(admin, qt.DeepEquals, []string{"clients_admin_select", "clients_admin_update"})
}

const minimal = `
version: 3
roles: {tenant: app_user, admin: app_admin}
subject: app.uid()
tables:
  - table: notes
    visible_to: [owner_id]
    insert_check: owner_id = app.uid()
`

func TestParseMinimal(t *testing.T) {
	c := qt.New(t)

	s, err := Parse([]byte(minimal))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Policies(), qt.DeepEquals, []Policy{
		{Name: "notes_select", Table: "notes", Command: "select", Role: "app_user", Using: "(owner_id = app.uid())"},
		{Name: "notes_insert", Table: "notes", Command: "insert", Role: "app_user", Check: "owner_id = app.uid()"},
	})
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want string
	}{
		"unknown key": {
			doc:  strings.Replace(minimal, "visible_to", "visible_for", 1),
			want: "field visible_for not found",
		},
		"blanket true": {
			doc:  minimal + "    visible_if: [\"true\"]\n",
			want: "caller-independent",
		},
		"no select rule": {
			doc: `
version: 1
roles: {tenant: app_user, admin: app_admin}
subject: app.uid()
tables:
  - table: notes
    insert_check: owner_id = app.uid()
`,
			want: "no select rule",
		},
		"role bypass": {
			doc:  minimal + "    delete_if: [\"owner_id = app.uid() or current_user = 'postgres'\"]\n",
			want: "references current_user",
		},
		"admin role in tenant rule": {
			doc:  minimal + "    update_if: [\"owner_id = app.uid() or pg_catalog.current_setting('role') = 'app_admin'\"]\n",
			want: "references role app_admin",
		},
		"not caller scoped": {
			doc:  strings.Replace(minimal, "insert_check: owner_id = app.uid()", "insert_check: owner_id is not null", 1),
			want: "does not reference app.uid()",
		},
		"duplicate table": {
			doc:  minimal + "  - table: notes\n    visible_to: [owner_id]\n",
			want: "declared twice",
		},
		"bad version": {
			doc:  strings.Replace(minimal, "version: 3", "version: 0", 1),
			want: "version must be a positive integer",
		},
		"update check alone": {
			doc:  minimal + "    update_check: owner_id = app.uid()\n",
			want: "update_check without update_to",
		},
		"unknown admin command": {
			doc:  minimal + "    admin:\n      - command: truncate\n        using: \"true\"\n",
			want: "unknown command",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			_, err := Parse([]byte(tc.doc))
			c.Assert(errors.Is(err, ErrInvalid), qt.IsTrue, qt.Commentf("err=%v", err))
			c.Assert(err.Error(), qt.Contains, tc.want)
		})
	}
}

func TestRenderEnablesAndForcesRLS(t *testing.T) {
	c := qt.New(t)

	s, err := Parse([]byte(minimal))
	c.Assert(err, qt.IsNil)
	sql := Render(s)
	c.Assert(sql, qt.Contains, "-- policy set version 3")
	c.Assert(sql, qt.Contains, "alter table public.notes enable row level security;")
	c.Assert(sql, qt.Contains, "alter table public.notes force row level security;")
	c.Assert(sql, qt.Contains, "execute format('drop policy %I on public.notes', p.policyname);")
	c.Assert(sql, qt.Contains, "create policy notes_select on public.notes as permissive for select to app_user using ((owner_id = app.uid()));")
	c.Assert(sql, qt.Contains, "create policy notes_insert on public.notes as permissive for insert to app_user with check (owner_id = app.uid());")
}

func TestUpdateCheckDefaultsToUsing(t *testing.T) {
	c := qt.New(t)

	s, err := Parse([]byte(minimal + "    update_to: [owner_id]\n"))
	c.Assert(err, qt.IsNil)
	p := s.Policies()[2]
	c.Assert(p.Name, qt.Equals, "notes_update")
	c.Assert(p.Check, qt.Equals, p.Using)
}

func TestChecksumTracksContent(t *testing.T) {
	c := qt.New(t)

	a, _ := Parse([]byte(minimal))
	b, _ := Parse([]byte(minimal + "    delete_to: [owner_id]\n"))
	c.Assert(Checksum(a), qt.Not(qt.Equals), Checksum(b))
	c.Assert(Checksum(a), qt.Equals, Checksum(a))
}

func TestApplyRejectsReusedVersion(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	mock.ExpectBegin()
	mock.ExpectQuery("select checksum from policy_versions").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"checksum"}).AddRow("something-else"))
	mock.ExpectRollback()

	err = Apply(context.Background(), db, s)
	c.Assert(errors.Is(err, ErrVersionReused), qt.IsTrue, qt.Commentf("err=%v", err))
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestApplyInstallsAndRecords(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	mock.ExpectBegin()
	mock.ExpectQuery("select checksum from policy_versions").WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"checksum"}))
	for range Statements(s) {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("insert into policy_versions").WithArgs(3, Checksum(s)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c.Assert(Apply(context.Background(), db, s), qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

var policyCols = []string{"tablename", "policyname", "cmd", "roles", "qual", "with_check"}

// renderedNotes is what Postgres stores for the minimal set.
func renderedNotes() *sqlmock.Rows {
	return sqlmock.NewRows(policyCols).
		AddRow("notes", "notes_select", "SELECT", "app_user", "(owner_id = app.uid())", "").
		AddRow("notes", "notes_insert", "INSERT", "app_user", "", "(owner_id = app.uid())")
}

func expectCatalog(mock sqlmock.Sqlmock, s Set, tables, live, rendered *sqlmock.Rows, version any) {
	mock.ExpectQuery("from pg_class").WithArgs("app_user").WillReturnRows(tables)
	mock.ExpectQuery("from pg_policies").WillReturnRows(live)
	if rendered != nil {
		mock.ExpectBegin()
		for range Statements(s) {
			mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectQuery("from pg_policies").WillReturnRows(rendered)
		mock.ExpectRollback()
	}
	mock.ExpectQuery("select max").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(version))
}

func driftStrings(drift []Drift) []string {
	var got []string
	for _, d := range drift {
		got = append(got, d.String())
	}
	return got
}

func TestVerifyClean(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	expectCatalog(mock, s,
		sqlmock.NewRows([]string{"relname", "relrowsecurity", "relforcerowsecurity", "access"}).
			AddRow("notes", true, true, true).
			AddRow("schema_migrations", false, false, false),
		renderedNotes(),
		renderedNotes(),
		3,
	)

	drift, err := Verify(context.Background(), db, s)
	c.Assert(err, qt.IsNil)
	c.Assert(drift, qt.HasLen, 0)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestVerifyReportsDrift(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	expectCatalog(mock, s,
		sqlmock.NewRows([]string{"relname", "relrowsecurity", "relforcerowsecurity", "access"}).
			AddRow("notes", true, false, true).
			AddRow("secrets", false, false, true),
		sqlmock.NewRows(policyCols).
			AddRow("notes", "notes_select", "SELECT", "public", "(owner_id = app.uid())", "").
			AddRow("notes", "notes_everyone", "ALL", "app_user", "true", ""),
		renderedNotes(),
		2,
	)

	drift, err := Verify(context.Background(), db, s)
	c.Assert(err, qt.IsNil)
	c.Assert(driftStrings(drift), qt.DeepEquals, []string{
		"notes/notes_everyone: policy not in set",
		"notes/notes_insert: policy missing",
		"notes/notes_select: granted to public, want app_user",
		"notes: row level security not forced",
		"policy_versions: applied version 2, want 3",
		"secrets: tenant role has access to a table outside the policy set",
	})
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestVerifyReportsRewrittenExpressions(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	expectCatalog(mock, s,
		sqlmock.NewRows([]string{"relname", "relrowsecurity", "relforcerowsecurity", "access"}).
			AddRow("notes", true, true, true),
		// Same names, commands and roles; only the expressions were loosened.
		sqlmock.NewRows(policyCols).
			AddRow("notes", "notes_select", "SELECT", "app_user", "true", "").
			AddRow("notes", "notes_insert", "INSERT", "app_user", "", "true"),
		renderedNotes(),
		3,
	)

	drift, err := Verify(context.Background(), db, s)
	c.Assert(err, qt.IsNil)
	c.Assert(driftStrings(drift), qt.DeepEquals, []string{
		`notes/notes_insert: with check expression is "true", want "(owner_id = app.uid())"`,
		`notes/notes_select: using expression is "true", want "(owner_id = app.uid())"`,
	})
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestVerifySkipsExpressionsWhenTableMissing(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	expectCatalog(mock, s,
		sqlmock.NewRows([]string{"relname", "relrowsecurity", "relforcerowsecurity", "access"}),
		sqlmock.NewRows(policyCols),
		nil,
		3,
	)

	drift, err := Verify(context.Background(), db, s)
	c.Assert(err, qt.IsNil)
	c.Assert(driftStrings(drift), qt.DeepEquals, []string{
		"notes/notes_insert: policy missing",
		"notes/notes_select: policy missing",
		"notes: table missing",
	})
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestVerifyRenderFailureIsAnError(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	s, _ := Parse([]byte(minimal))
	mock.ExpectQuery("from pg_class").WithArgs("app_user").WillReturnRows(
		sqlmock.NewRows([]string{"relname", "relrowsecurity", "relforcerowsecurity", "access"}).AddRow("notes", true, true, true))
	mock.ExpectQuery("from pg_policies").WillReturnRows(renderedNotes())
	mock.ExpectBegin()
	mock.ExpectExec("alter table").WillReturnError(errors.New("must be owner of table notes"))
	mock.ExpectRollback()

	_, err = Verify(context.Background(), db, s)
	c.Assert(err, qt.ErrorMatches, "policy: render expressions: must be owner of table notes")
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}
