package gateway

import (
	"context"
	"database/sql"
	"math"
	"time"

	"coachlink.app/internal/ids"
)

const weightLogColumns = `id, user_id, coach_id, created_by, weight_kg, note, logged_at, created_at`

func scanWeightLog(row scanner) (WeightLog, error) {
	var (
		w           WeightLog
		coach, note sql.NullString
	)
	if err := row.Scan(&w.ID, &w.UserID, &coach, &w.CreatedBy, &w.WeightKg, &note, &w.LoggedAt, &w.CreatedAt); err != nil {
		return WeightLog{}, err
	}
	w.CoachID, w.Note = coach.String, note.String
	return w, nil
}

// ListWeightLogs returns the caller's own measurements and, for a coach, those
// of the clients it manages.
func (g *Gateway) ListWeightLogs(ctx context.Context) ([]WeightLog, error) {
	var out []WeightLog
	err := g.tx(ctx, "weight_logs", "list", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+weightLogColumns+` from weight_logs order by logged_at desc, id desc limit $1`, g.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			w, err := scanWeightLog(rows)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}

// CreateWeightLog records a measurement owned by the caller. The managing coach
// is taken from the caller's linked profile, never from the input.
func (g *Gateway) CreateWeightLog(ctx context.Context, in NewWeightLog) (WeightLog, error) {
	if in.WeightKg <= 0 || in.WeightKg >= 1000 || math.IsNaN(in.WeightKg) {
		return WeightLog{}, invalid("weight_kg must be between 0 and 1000")
	}
	if in.LoggedAt.IsZero() {
		in.LoggedAt = time.Now().UTC()
	}
	if err := g.stamp(ctx, &in); err != nil {
		return WeightLog{}, err
	}
	var out WeightLog
	err := g.tx(ctx, "weight_logs", "create", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanWeightLog(tx.QueryRowContext(ctx, `
			insert into weight_logs (id, user_id, coach_id, created_by, weight_kg, note, logged_at)
			values ($1, $2, (
				select c.coach_id from clients c
				where c.user_id = $2 and c.coach_id is not null
				order by c.created_at
				limit 1
			), $3, $4, $5, $6)
			returning `+weightLogColumns,
			ids.New(), in.UserID, in.CreatedBy, in.WeightKg, nullable(in.Note), in.LoggedAt))
		return err
	})
	return out, err
}

// DeleteWeightLog removes one of the caller's own measurements.
func (g *Gateway) DeleteWeightLog(ctx context.Context, id string) error {
	return g.tx(ctx, "weight_logs", "delete", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from weight_logs where id = $1`, id)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
}
