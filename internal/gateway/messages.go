package gateway

import (
	"context"
	"database/sql"
	"strings"

	"coachlink.app/internal/ids"
)

const messageColumns = `id, sender_id, recipient_id, body, created_at, read_at`

func scanMessage(row scanner) (Message, error) {
	var (
		m    Message
		read sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt, &read); err != nil {
		return Message{}, err
	}
	m.ReadAt = timePtr(read)
	return m, nil
}

// ListMessages returns messages the caller sent or received, newest first.
func (g *Gateway) ListMessages(ctx context.Context) ([]Message, error) {
	var out []Message
	err := g.tx(ctx, "messages", "list", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+messageColumns+` from messages order by created_at desc, id desc limit $1`, g.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// SendMessage sends from the caller. The store rejects recipients the caller
// has no coaching relationship with (ErrWriteDenied).
func (g *Gateway) SendMessage(ctx context.Context, in NewMessage) (Message, error) {
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	if in.RecipientID == "" {
		return Message{}, invalid("recipient_id is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return Message{}, invalid("body is required")
	}
	if err := g.stamp(ctx, &in); err != nil {
		return Message{}, err
	}
	var out Message
	err := g.tx(ctx, "messages", "send", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanMessage(tx.QueryRowContext(ctx, `
			insert into messages (id, sender_id, recipient_id, body)
			values ($1, $2, $3, $4)
			returning `+messageColumns,
			ids.New(), in.SenderID, in.RecipientID, in.Body))
		return err
	})
	return out, err
}

// MarkMessageRead sets read_at on a message addressed to the caller. Marking an
// already read message keeps the first read time.
func (g *Gateway) MarkMessageRead(ctx context.Context, id string) (Message, error) {
	var out Message
	err := g.tx(ctx, "messages", "mark_read", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanMessage(tx.QueryRowContext(ctx, `
			update messages set read_at = coalesce(read_at, now())
			where id = $1
			returning `+messageColumns, id))
		return err
	})
	return out, err
}

// DeleteMessage removes a message the caller sent.
func (g *Gateway) DeleteMessage(ctx context.Context, id string) error {
	return g.tx(ctx, "messages", "delete", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from messages where id = $1`, id)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
}
