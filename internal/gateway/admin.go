package gateway

import (
	"context"
	"database/sql"
	"strings"

	"coachlink.app/internal/audit"
)

// AdminGateway runs as the administrative database role. It exposes only the
// operations the policy set grants that role explicitly.
type AdminGateway struct {
	session
	reason string
}

// AssignCoach sets the managing coach of a client profile.
func (a *AdminGateway) AssignCoach(ctx context.Context, clientID, coachID string) (Client, error) {
	return a.relink(ctx, "assign_coach", clientID, "coach_id", coachID)
}

// LinkClientAccount attaches the client's own account to a profile, which gives
// that account access to the profile and its coach.
func (a *AdminGateway) LinkClientAccount(ctx context.Context, clientID, userID string) (Client, error) {
	return a.relink(ctx, "link_account", clientID, "user_id", userID)
}

func (a *AdminGateway) relink(ctx context.Context, op, clientID, column, value string) (Client, error) {
	clientID, value = strings.TrimSpace(clientID), strings.TrimSpace(value)
	if clientID == "" || value == "" {
		return Client{}, invalid("client id and %s are required", column)
	}
	// column is one of two constants chosen by the callers above.
	query := `update clients set ` + column + ` = $2, updated_at = now() where id = $1 returning ` + clientColumns

	var out Client
	err := a.tx(ctx, "clients", op, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanClient(tx.QueryRowContext(ctx, query, clientID, value))
		return err
	})
	if err != nil {
		return Client{}, err
	}
	_ = audit.LogEvent(ctx, "gateway.service."+op, map[string]string{
		"reason":    a.reason,
		"client_id": clientID,
		column:      value,
	})
	return out, nil
}
