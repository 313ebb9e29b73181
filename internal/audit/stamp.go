package audit

import (
	"context"
	"errors"

	"coachlink.app/internal/identity"
)

// ErrMissingCaller means Stamp was called without a verified caller on the context.
var ErrMissingCaller = errors.New("audit: no verified caller")

// Provenanced is implemented by every insert payload that carries authorship or
// ownership fields. StampProvenance must overwrite those fields unconditionally.
type Provenanced interface {
	StampProvenance(caller identity.Caller)
}

// Stamp overwrites the provenance fields of rec with the verified caller from
// ctx. Whatever the client submitted for those fields is discarded.
func Stamp(ctx context.Context, rec Provenanced) error {
	caller, ok := identity.CallerFromContext(ctx)
	if !ok {
		return ErrMissingCaller
	}
	rec.StampProvenance(caller)
	return nil
}
