package policy

import (
	"fmt"
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var commands = map[string]bool{"select": true, "insert": true, "update": true, "delete": true}

// Tokens that would let a tenant rule depend on who is connected instead of who
// is calling.
var bypassTokens = []string{"current_user", "session_user", "current_role", "pg_has_role", "is_superuser"}

// Validate checks the invariants every set must hold before it can be rendered.
func Validate(s Set) error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if s.Version < 1 {
		fail("version must be a positive integer")
	}
	if !identRe.MatchString(s.Roles.Tenant) {
		fail("roles.tenant %q is not a valid role name", s.Roles.Tenant)
	}
	if !identRe.MatchString(s.Roles.Admin) {
		fail("roles.admin %q is not a valid role name", s.Roles.Admin)
	}
	if s.Roles.Tenant == s.Roles.Admin {
		fail("tenant and admin roles must differ")
	}
	subject := strings.TrimSpace(s.Subject)
	if subject == "" {
		fail("subject expression is required")
	}
	if len(s.Tables) == 0 {
		fail("no tables")
	}

	tenantExpr := func(table, field, expr string) {
		e := strings.TrimSpace(expr)
		lower := strings.ToLower(e)
		switch {
		case e == "":
			fail("%s.%s: empty expression", table, field)
		case lower == "true" || lower == "(true)":
			fail("%s.%s: caller-independent expression %q", table, field, e)
		case subject != "" && !strings.Contains(e, subject):
			fail("%s.%s: expression does not reference %s", table, field, subject)
		}
		for _, tok := range bypassTokens {
			if strings.Contains(lower, tok) {
				fail("%s.%s: expression references %s", table, field, tok)
			}
		}
		for _, role := range []string{s.Roles.Tenant, s.Roles.Admin} {
			if role != "" && strings.Contains(lower, role) {
				fail("%s.%s: expression references role %s", table, field, role)
			}
		}
	}
	columns := func(table, field string, cols []string) {
		seen := map[string]bool{}
		for _, c := range cols {
			if !identRe.MatchString(c) {
				fail("%s.%s: %q is not a column name", table, field, c)
			}
			if seen[c] {
				fail("%s.%s: duplicate column %s", table, field, c)
			}
			seen[c] = true
		}
	}

	tables := map[string]bool{}
	for _, t := range s.Tables {
		name := t.Name
		if !identRe.MatchString(name) {
			fail("table %q is not a valid table name", name)
			continue
		}
		if tables[name] {
			fail("table %s declared twice", name)
		}
		tables[name] = true

		if len(t.VisibleTo) == 0 && len(t.VisibleIf) == 0 {
			fail("%s: no select rule", name)
		}
		columns(name, "visible_to", t.VisibleTo)
		columns(name, "update_to", t.UpdateTo)
		columns(name, "delete_to", t.DeleteTo)
		for _, e := range t.VisibleIf {
			tenantExpr(name, "visible_if", e)
		}
		for _, e := range t.UpdateIf {
			tenantExpr(name, "update_if", e)
		}
		for _, e := range t.DeleteIf {
			tenantExpr(name, "delete_if", e)
		}
		if t.InsertCheck != "" {
			tenantExpr(name, "insert_check", t.InsertCheck)
		}
		hasUpdate := len(t.UpdateTo) > 0 || len(t.UpdateIf) > 0
		if t.UpdateCheck != "" {
			if !hasUpdate {
				fail("%s: update_check without update_to or update_if", name)
			}
			tenantExpr(name, "update_check", t.UpdateCheck)
		}

		granted := map[string]bool{}
		for _, g := range t.Admin {
			cmd := strings.ToLower(strings.TrimSpace(g.Command))
			if !commands[cmd] {
				fail("%s.admin: unknown command %q", name, g.Command)
				continue
			}
			if granted[cmd] {
				fail("%s.admin: duplicate %s grant", name, cmd)
			}
			granted[cmd] = true
			if cmd != "insert" && strings.TrimSpace(g.Using) == "" {
				fail("%s.admin %s: using is required", name, cmd)
			}
			if cmd == "insert" && strings.TrimSpace(g.Check) == "" {
				fail("%s.admin insert: check is required", name)
			}
			if cmd == "select" || cmd == "delete" {
				if strings.TrimSpace(g.Check) != "" {
					fail("%s.admin %s: check is not allowed", name, cmd)
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
