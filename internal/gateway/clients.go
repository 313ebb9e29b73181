package gateway

import (
	"context"
	"database/sql"
	"strings"

	"coachlink.app/internal/ids"
)

const clientColumns = `id, coach_id, user_id, created_by, full_name, email, notes, created_at, updated_at`

func scanClient(row scanner) (Client, error) {
	var (
		c                          Client
		coach, user, email, notes sql.NullString
	)
	if err := row.Scan(&c.ID, &coach, &user, &c.CreatedBy, &c.FullName, &email, &notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Client{}, err
	}
	c.CoachID, c.UserID, c.Email, c.Notes = coach.String, user.String, email.String, notes.String
	return c, nil
}

// ListClients returns every client profile visible to the caller: the ones it
// manages as a coach and its own as a client.
func (g *Gateway) ListClients(ctx context.Context) ([]Client, error) {
	var out []Client
	err := g.tx(ctx, "clients", "list", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+clientColumns+` from clients order by created_at desc, id desc limit $1`, g.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanClient(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// GetClient returns one profile, or ErrNotFound when it does not exist or is not visible.
func (g *Gateway) GetClient(ctx context.Context, id string) (Client, error) {
	var out Client
	err := g.tx(ctx, "clients", "get", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanClient(tx.QueryRowContext(ctx, `select `+clientColumns+` from clients where id = $1`, id))
		return err
	})
	return out, err
}

// CreateClient inserts a profile authored by the caller.
func (g *Gateway) CreateClient(ctx context.Context, in NewClient) (Client, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return Client{}, invalid("full_name is required")
	}
	if err := g.stamp(ctx, &in); err != nil {
		return Client{}, err
	}
	var out Client
	err := g.tx(ctx, "clients", "create", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanClient(tx.QueryRowContext(ctx, `
			insert into clients (id, coach_id, user_id, created_by, full_name, email, notes)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning `+clientColumns,
			ids.New(), nullable(in.CoachID), nullable(in.UserID), in.CreatedBy, in.FullName,
			nullable(strings.TrimSpace(in.Email)), nullable(in.Notes)))
		return err
	})
	return out, err
}

// UpdateClientNotes replaces the coach notes on a profile the caller manages.
func (g *Gateway) UpdateClientNotes(ctx context.Context, id, notes string) (Client, error) {
	var out Client
	err := g.tx(ctx, "clients", "update", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanClient(tx.QueryRowContext(ctx, `
			update clients set notes = $2, updated_at = now()
			where id = $1
			returning `+clientColumns, id, nullable(notes)))
		return err
	})
	return out, err
}

// DeleteClient removes a profile the caller manages, or its own unmanaged profile.
func (g *Gateway) DeleteClient(ctx context.Context, id string) error {
	return g.tx(ctx, "clients", "delete", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from clients where id = $1`, id)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
}
