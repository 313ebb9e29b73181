package idp

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/store/pg"
)

// User is a provider account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         identity.Role
	CreatedAt    time.Time
	LastSignIn   *time.Time
}

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	TouchSignIn(ctx context.Context, id string, at time.Time) error
}

var _ Store = (*PGStore)(nil)

// PGStore keeps accounts in idp.users.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, password_hash, role, created_at, last_sign_in`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
		last sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = identity.Role(role)
	if last.Valid {
		t := last.Time
		u.LastSignIn = &t
	}
	return &u, nil
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	err := s.db.QueryRowContext(ctx, `
		insert into idp.users (id, email, password_hash, role)
		values ($1, $2, $3, $4)
		returning created_at`,
		u.ID, u.Email, u.PasswordHash, string(u.Role),
	).Scan(&u.CreatedAt)
	if pg.Code(err) == pg.CodeUniqueViolation {
		return ErrAlreadyRegistered
	}
	return err
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from idp.users where lower(email) = $1`, strings.ToLower(email)))
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from idp.users where id = $1`, id))
}

func (s *PGStore) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update idp.users set last_sign_in = $2 where id = $1`, id, at)
	return err
}
