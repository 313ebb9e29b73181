package gateway

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"coachlink.app/internal/ids"
)

const integrationColumns = `id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at`

var providerRe = regexp.MustCompile(`^[a-z0-9_-]{1,40}$`)

func scanIntegration(row scanner) (Integration, error) {
	var (
		in      Integration
		refresh sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&in.ID, &in.UserID, &in.Provider, &in.AccessToken, &refresh, &expires, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return Integration{}, err
	}
	in.RefreshToken = refresh.String
	in.ExpiresAt = timePtr(expires)
	return in, nil
}

// ListIntegrations returns the caller's own device integrations.
func (g *Gateway) ListIntegrations(ctx context.Context) ([]Integration, error) {
	var out []Integration
	err := g.tx(ctx, "device_integrations", "list", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `select `+integrationColumns+` from device_integrations order by provider limit $1`, g.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			in, err := scanIntegration(rows)
			if err != nil {
				return err
			}
			out = append(out, in)
		}
		return rows.Err()
	})
	return out, err
}

// UpsertIntegration stores or replaces the caller's tokens for a provider.
func (g *Gateway) UpsertIntegration(ctx context.Context, in NewIntegration) (Integration, error) {
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	if !providerRe.MatchString(in.Provider) {
		return Integration{}, invalid("provider must match %s", providerRe.String())
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return Integration{}, invalid("access_token is required")
	}
	if err := g.stamp(ctx, &in); err != nil {
		return Integration{}, err
	}
	var out Integration
	err := g.tx(ctx, "device_integrations", "upsert", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanIntegration(tx.QueryRowContext(ctx, `
			insert into device_integrations (id, user_id, provider, access_token, refresh_token, expires_at)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (user_id, provider) do update
			set access_token = excluded.access_token,
			    refresh_token = excluded.refresh_token,
			    expires_at = excluded.expires_at,
			    updated_at = now()
			returning `+integrationColumns,
			ids.New(), in.UserID, in.Provider, in.AccessToken, nullable(in.RefreshToken), nullableTime(in.ExpiresAt)))
		return err
	})
	return out, err
}

// DeleteIntegration removes the caller's integration with provider.
func (g *Gateway) DeleteIntegration(ctx context.Context, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	return g.tx(ctx, "device_integrations", "delete", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from device_integrations where provider = $1`, provider)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
}
