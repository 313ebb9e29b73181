package gateway

import (
	"context"
	"database/sql"
	"strings"

	"coachlink.app/internal/ids"
)

const workoutColumns = `id, client_id, coach_id, assigned_by, title, details, scheduled_for, created_at`

func scanWorkout(row scanner) (WorkoutAssignment, error) {
	var (
		w       WorkoutAssignment
		details sql.NullString
	)
	if err := row.Scan(&w.ID, &w.ClientID, &w.CoachID, &w.AssignedBy, &w.Title, &details, &w.ScheduledFor, &w.CreatedAt); err != nil {
		return WorkoutAssignment{}, err
	}
	w.Details = details.String
	return w, nil
}

// ListWorkoutAssignments returns assignments the caller made as a coach or
// received as a linked client.
func (g *Gateway) ListWorkoutAssignments(ctx context.Context) ([]WorkoutAssignment, error) {
	var out []WorkoutAssignment
	err := g.tx(ctx, "workout_assignments", "list", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+workoutColumns+` from workout_assignments order by scheduled_for desc, id desc limit $1`, g.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			w, err := scanWorkout(rows)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}

// AssignWorkout schedules a workout for a client profile the caller manages.
func (g *Gateway) AssignWorkout(ctx context.Context, in NewWorkoutAssignment) (WorkoutAssignment, error) {
	in.ClientID = strings.TrimSpace(in.ClientID)
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.ClientID == "":
		return WorkoutAssignment{}, invalid("client_id is required")
	case in.Title == "":
		return WorkoutAssignment{}, invalid("title is required")
	case in.ScheduledFor.IsZero():
		return WorkoutAssignment{}, invalid("scheduled_for is required")
	}
	if err := g.stamp(ctx, &in); err != nil {
		return WorkoutAssignment{}, err
	}
	var out WorkoutAssignment
	err := g.tx(ctx, "workout_assignments", "create", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanWorkout(tx.QueryRowContext(ctx, `
			insert into workout_assignments (id, client_id, coach_id, assigned_by, title, details, scheduled_for)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning `+workoutColumns,
			ids.New(), in.ClientID, in.CoachID, in.AssignedBy, in.Title, nullable(in.Details), in.ScheduledFor))
		return err
	})
	return out, err
}

// DeleteWorkoutAssignment removes an assignment the caller made.
func (g *Gateway) DeleteWorkoutAssignment(ctx context.Context, id string) error {
	return g.tx(ctx, "workout_assignments", "delete", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from workout_assignments where id = $1`, id)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
}
