// Package api exposes a single session Manager over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/sessionvault/identity"
	"github.com/jmcleod/sessionvault/session"
)

// IdentityLoader returns the identity sessions are started from.
type IdentityLoader func() (*identity.Identity, error)

// API holds the dependencies needed by the REST handlers.
type API struct {
	manager      *session.Manager
	loadIdentity IdentityLoader
	rateLimiter  *unlockRateLimiter
	audit        *auditLogger
	metrics      *sessionMetrics
	alertFn      AlertFunc
	registry     *prometheus.Registry
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *API) {
		a.registry = reg
	}
}

// WithAlertFunc sets the callback for unlock-failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates an API over mgr. State changes on mgr are audited and counted
// from here on.
func New(mgr *session.Manager, loadIdentity IdentityLoader, opts ...Option) *API {
	a := &API{
		manager:      mgr,
		loadIdentity: loadIdentity,
		rateLimiter:  newUnlockRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.metrics = newSessionMetrics(a.registry)
	a.audit.anomalies = newAnomalyCollector(a.alertFn)

	mgr.OnChange(a.onTransition)
	a.metrics.setState(mgr.CurrentState())
	return a
}

// Registry returns the registry the API's metrics are registered on.
func (a *API) Registry() *prometheus.Registry {
	return a.registry
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Method(http.MethodGet, "/metrics", a.metricsHandler())

	r.Route("/session", func(r chi.Router) {
		r.Post("/", a.StartSession)
		r.Get("/", a.GetSession)
		r.Delete("/", a.EndSession)
		r.Post("/restore", a.RestoreSession)
		r.Post("/extend", a.ExtendSession)
		r.Post("/activity", a.RecordActivity)
		r.Post("/unlock", a.UnlockSession)
	})

	return r
}
