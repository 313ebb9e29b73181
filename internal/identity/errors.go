package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the credential is missing, malformed, expired or rejected.
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	// ErrUnavailable means the credential could not be checked. Callers must fail closed.
	ErrUnavailable = errors.New("identity: provider unavailable")
	// ErrAlreadyRegistered is returned by sign-up when the account exists.
	ErrAlreadyRegistered = errors.New("identity: already registered")
)

func unauthenticated(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, reason)
}
