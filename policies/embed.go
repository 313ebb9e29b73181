// Package policies embeds the row level security policy set.
package policies

import _ "embed"

// RLS is the contents of rls.yaml.
//
//go:embed rls.yaml
var RLS []byte
