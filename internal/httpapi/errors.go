package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

// ErrForbidden is a business-role rejection. It is decided before the store is
// touched and never replaces the store's own row filtering.
var ErrForbidden = errors.New("httpapi: operation not allowed for this role")

// requireRole rejects callers whose role is not in roles.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...identity.Role) bool {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing credential")
		return false
	}
	for _, role := range roles {
		if p.Caller.Role == role {
			return true
		}
	}
	writeError(w, r, http.StatusForbidden, fmt.Sprintf("%s: %s", ErrForbidden.Error(), p.Caller.Role))
	return false
}

// handleGatewayError maps gateway errors to responses. Store messages are
// logged, never returned.
func handleGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, gateway.ErrWriteDenied):
		// A write the policies refuse looks the same as a write to a row that
		// does not exist.
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, gateway.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "data store unavailable")
	default:
		obs.L(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// validationMessage keeps the gateway's own explanation and drops any wrapped
// driver text.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := gateway.ErrInvalid.Error() + ": "
	if !strings.HasPrefix(msg, prefix) {
		return "invalid input"
	}
	msg = strings.TrimPrefix(msg, prefix)
	if strings.Contains(msg, "ERROR:") || strings.Contains(msg, "SQLSTATE") {
		return "invalid input"
	}
	return msg
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooBig):
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body: " + strings.TrimPrefix(err.Error(), "json: "))
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
