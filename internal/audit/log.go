// Package audit records who did what, and stamps provenance on records before
// they are written.
package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

// LogEvent writes an audit entry enriched with the request id and caller from ctx.
func LogEvent(ctx context.Context, event string, fields map[string]string) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	zf := make([]zap.Field, 0, len(fields)+4)
	zf = append(zf, zap.String("type", "audit"), zap.String("event", event))
	if caller, ok := identity.CallerFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", caller.ID), zap.String("user_role", string(caller.Role)))
	}
	if len(fields) > 0 {
		zf = append(zf, zap.Any("fields", copyFields(fields)))
	}
	obs.L(ctx).Info("audit", zf...)
	return nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
