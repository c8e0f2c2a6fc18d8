package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"lumora.app/internal/auth"
	"lumora.app/internal/obs"
	"lumora.app/internal/ratelimit"
)

// ReadyProbe checks readiness (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer: admission middleware plus the auth endpoints that
// drive the token vault. Application handlers (the AI proxy, CRUD glue)
// mount behind the same admission chain via Mount.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	resolver *ratelimit.Resolver
	limiter  *ratelimit.Limiter

	backstopBurst     int
	backstopPerSecond int
}

// Option configures the API.
type Option func(*API)

// WithBackstop tunes the per-IP flood backstop in front of the policy
// limiter.
func WithBackstop(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.backstopBurst = burst
			a.backstopPerSecond = perSecond
		}
	}
}

// New wires the HTTP layer.
func New(rp ReadyProbe, version string, authSvc *auth.Service, resolver *ratelimit.Resolver, limiter *ratelimit.Limiter, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		resolver:   resolver,
		limiter:    limiter,

		backstopBurst:     20,
		backstopPerSecond: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout_all", a.handleLogoutAll)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Mount registers an application handler behind the admission chain.
func (a *API) Mount(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAdmission(h)
	h = Backstop(h, a.backstopBurst, a.backstopPerSecond)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lumora-admission",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "lumora-admission",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
