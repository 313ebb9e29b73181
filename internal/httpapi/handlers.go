package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"coachlink.app/internal/gateway"
	"coachlink.app/internal/identity"
	"coachlink.app/internal/obs"
)

const serviceName = "coachlink-api"

// ReadyProbe checks that the database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// SessionIssuer creates and revokes legacy sessions.
type SessionIssuer interface {
	Create(ctx context.Context, token string, expiresAt time.Time) (string, error)
	Revoke(ctx context.Context, id string) error
}

// Options configures the HTTP layer.
type Options struct {
	Version string
	// Sessions enables the /v1/sessions endpoints and cookie credentials.
	Sessions SessionIssuer
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	CORSOrigins   []string
	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
	// TrustProxyHeaders keys rate limits on X-Forwarded-For.
	TrustProxyHeaders bool
}

// API is the HTTP surface for coaches and clients.
type API struct {
	router   chi.Router
	ready    readinessChecker
	resolver gateway.Resolver
	gateways *gateway.Factory
	opts     Options
}

// New builds the router. resolver verifies credentials; gateways binds each
// verified caller to its own data gateway.
func New(rp readinessChecker, resolver gateway.Resolver, gateways *gateway.Factory, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{ready: rp, resolver: resolver, gateways: gateways, opts: opts}

	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, obs.Instrument, obs.HTTPMiddleware(serviceName), SecurityHeaders)
	r.Use(CORS(opts.CORSOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, opts.MaxBodyBytes) })
	r.Use(func(next http.Handler) http.Handler {
		return RateLimit(next, opts.RateBurst, opts.RatePerSecond, opts.TrustProxyHeaders)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Post("/v1/sessions", a.createSession)
		r.Delete("/v1/sessions", a.deleteSession)

		r.Get("/v1/clients", a.listClients)
		r.Post("/v1/clients", a.createClient)
		r.Get("/v1/clients/{id}", a.getClient)
		r.Patch("/v1/clients/{id}", a.updateClient)
		r.Delete("/v1/clients/{id}", a.deleteClient)

		r.Get("/v1/messages", a.listMessages)
		r.Post("/v1/messages", a.sendMessage)
		r.Post("/v1/messages/{id}/read", a.markMessageRead)
		r.Delete("/v1/messages/{id}", a.deleteMessage)

		r.Get("/v1/integrations", a.listIntegrations)
		r.Put("/v1/integrations", a.upsertIntegration)
		r.Delete("/v1/integrations/{provider}", a.deleteIntegration)

		r.Get("/v1/weight-logs", a.listWeightLogs)
		r.Post("/v1/weight-logs", a.createWeightLog)
		r.Delete("/v1/weight-logs/{id}", a.deleteWeightLog)

		r.Get("/v1/workout-assignments", a.listWorkoutAssignments)
		r.Post("/v1/workout-assignments", a.assignWorkout)
		r.Delete("/v1/workout-assignments/{id}", a.deleteWorkoutAssignment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	a.router = r
	return a
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.L(r.Context()).Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var _ SessionIssuer = (*identity.RedisSessions)(nil)
