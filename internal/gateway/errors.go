package gateway

import (
	"database/sql"
	"errors"
	"fmt"

	"coachlink.app/internal/store/pg"
)

var (
	// ErrNotFound covers rows that do not exist and rows the caller may not see.
	// The two are deliberately indistinguishable.
	ErrNotFound = errors.New("gateway: not found")
	// ErrWriteDenied means the store's policies rejected a write.
	ErrWriteDenied = errors.New("gateway: write denied")
	// ErrConflict is a uniqueness violation.
	ErrConflict = errors.New("gateway: conflict")
	// ErrInvalid is input the store or the gateway refused as malformed.
	ErrInvalid = errors.New("gateway: invalid input")
	// ErrUnavailable means the store could not answer in time.
	ErrUnavailable = errors.New("gateway: store unavailable")
	// ErrServiceDisabled is returned by ForService when no administrative path is configured.
	ErrServiceDisabled = errors.New("gateway: service access disabled")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// classify maps driver errors onto the gateway's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrWriteDenied, ErrConflict, ErrInvalid, ErrUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	switch pg.Code(err) {
	case pg.CodeInsufficientPrivilege:
		return fmt.Errorf("%w: %w", ErrWriteDenied, err)
	case pg.CodeUniqueViolation:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case pg.CodeForeignKeyViolation, pg.CodeCheckViolation, pg.CodeNotNullViolation, pg.CodeInvalidTextRepr,
		"22001", "22003", "22007", "22008":
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if pg.Unavailable(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrWriteDenied):
		return "denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
