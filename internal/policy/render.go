package policy

import (
	"fmt"
	"strings"
)

// Policy is one rendered CREATE POLICY.
type Policy struct {
	Name    string
	Table   string
	Command string
	Role    string
	Using   string
	Check   string
}

// Policies expands the set into the policies it defines, in a stable order.
func (s Set) Policies() []Policy {
	var out []Policy
	for _, t := range s.Tables {
		if using := s.anyOf(t.VisibleTo, t.VisibleIf); using != "" {
			out = append(out, Policy{Name: t.Name + "_select", Table: t.Name, Command: "select", Role: s.Roles.Tenant, Using: using})
		}
		if t.InsertCheck != "" {
			out = append(out, Policy{Name: t.Name + "_insert", Table: t.Name, Command: "insert", Role: s.Roles.Tenant, Check: squash(t.InsertCheck)})
		}
		if using := s.anyOf(t.UpdateTo, t.UpdateIf); using != "" {
			check := using
			if t.UpdateCheck != "" {
				check = squash(t.UpdateCheck)
			}
			out = append(out, Policy{Name: t.Name + "_update", Table: t.Name, Command: "update", Role: s.Roles.Tenant, Using: using, Check: check})
		}
		if using := s.anyOf(t.DeleteTo, t.DeleteIf); using != "" {
			out = append(out, Policy{Name: t.Name + "_delete", Table: t.Name, Command: "delete", Role: s.Roles.Tenant, Using: using})
		}
		for _, g := range t.Admin {
			cmd := strings.ToLower(strings.TrimSpace(g.Command))
			out = append(out, Policy{
				Name:    t.Name + "_admin_" + cmd,
				Table:   t.Name,
				Command: cmd,
				Role:    s.Roles.Admin,
				Using:   squash(g.Using),
				Check:   squash(g.Check),
			})
		}
	}
	return out
}

// anyOf joins "<col> = <subject>" for each column with the raw terms using OR.
func (s Set) anyOf(cols, terms []string) string {
	parts := make([]string, 0, len(cols)+len(terms))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("(%s = %s)", c, s.Subject))
	}
	for _, t := range terms {
		parts = append(parts, "("+squash(t)+")")
	}
	return strings.Join(parts, " or ")
}

func squash(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}

// Statements renders the set as SQL statements. Existing policies on every
// managed table are dropped first, so the set is the complete truth for them.
func Statements(s Set) []string {
	var out []string
	for _, t := range s.Tables {
		qualified := "public." + t.Name
		out = append(out,
			fmt.Sprintf("alter table %s enable row level security", qualified),
			fmt.Sprintf("alter table %s force row level security", qualified),
			fmt.Sprintf(`do $$
declare p record;
begin
  for p in select policyname from pg_policies where schemaname = 'public' and tablename = '%s' loop
    execute format('drop policy %%I on %s', p.policyname);
  end loop;
end
$$`, t.Name, qualified),
		)
	}
	for _, p := range s.Policies() {
		out = append(out, p.SQL())
	}
	return out
}

// Render returns Statements as one script.
func Render(s Set) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- policy set version %d\n", s.Version)
	for _, stmt := range Statements(s) {
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	return b.String()
}

// SQL renders the CREATE POLICY statement.
func (p Policy) SQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "create policy %s on public.%s as permissive for %s to %s", p.Name, p.Table, p.Command, p.Role)
	if p.Using != "" {
		fmt.Fprintf(&b, " using (%s)", p.Using)
	}
	if p.Check != "" {
		fmt.Fprintf(&b, " with check (%s)", p.Check)
	}
	return b.String()
}
