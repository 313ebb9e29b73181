// Package policy loads the declarative row level security set, validates it,
// renders it to SQL and checks a live database against it.
package policy

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"coachlink.app/policies"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("policy: invalid set")

// Set is the whole authorization policy for the tenant tables.
type Set struct {
	Version int     `yaml:"version"`
	Roles   Roles   `yaml:"roles"`
	Subject string  `yaml:"subject"`
	Tables  []Table `yaml:"tables"`
}

// Roles names the database roles policies are granted to.
type Roles struct {
	Tenant string `yaml:"tenant"`
	Admin  string `yaml:"admin"`
}

// Table holds the rules of one table. Column lists expand to
// "<column> = <subject>" terms joined with OR; the *_if lists add raw OR terms.
// A command without any rule gets no policy and is therefore denied.
type Table struct {
	Name string `yaml:"table"`

	VisibleTo []string `yaml:"visible_to"`
	VisibleIf []string `yaml:"visible_if"`

	InsertCheck string `yaml:"insert_check"`

	UpdateTo    []string `yaml:"update_to"`
	UpdateIf    []string `yaml:"update_if"`
	UpdateCheck string   `yaml:"update_check"`

	DeleteTo []string `yaml:"delete_to"`
	DeleteIf []string `yaml:"delete_if"`

	Admin []AdminGrant `yaml:"admin"`
}

// AdminGrant is an explicit grant to the administrative role. Admin access
// exists only where a grant names it.
type AdminGrant struct {
	Command string `yaml:"command"`
	Using   string `yaml:"using"`
	Check   string `yaml:"check"`
}

// Parse decodes and validates a policy document. Unknown keys are rejected.
func Parse(data []byte) (Set, error) {
	var s Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := Validate(s); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Load returns the embedded policy set.
func Load() (Set, error) {
	return Parse(policies.RLS)
}

// Table returns the named table's rules.
func (s Set) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
