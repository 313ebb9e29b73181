package policy

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrVersionReused means a different set was already applied under the same version.
var ErrVersionReused = errors.New("policy: version already applied with different content")

// Checksum identifies the rendered content of s.
func Checksum(s Set) string {
	sum := sha256.Sum256([]byte(Render(s)))
	return hex.EncodeToString(sum[:])
}

// Apply installs s in one transaction and records its version. Re-applying the
// same content under the same version is a no-op in effect.
func Apply(ctx context.Context, db *sql.DB, s Set) error {
	if err := Validate(s); err != nil {
		return err
	}
	checksum := Checksum(s)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `select checksum from policy_versions where version = $1`, s.Version).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("policy: read applied versions: %w", err)
	case existing != checksum:
		return fmt.Errorf("%w: version %d", ErrVersionReused, s.Version)
	}

	for _, stmt := range Statements(s) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("policy: apply: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into policy_versions (version, checksum) values ($1, $2)
		on conflict (version) do update set applied_at = now()`, s.Version, checksum); err != nil {
		return fmt.Errorf("policy: record version: %w", err)
	}
	return tx.Commit()
}
