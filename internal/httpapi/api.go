package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"doctrack.org/internal/auth"
	"doctrack.org/internal/dispatch"
	"doctrack.org/internal/notify"
	"doctrack.org/internal/obs"
	"doctrack.org/internal/profile"
)

// ReadyProbe pings the backing store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Authenticator maps credentials and bearer tokens to principals.
// profile.Resolver implements it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, auth.Principal, error)
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// Config carries the API's collaborators.
type Config struct {
	Requests dispatch.Service
	Profiles profile.Store
	Auth     Authenticator
	Notify   *notify.Dispatcher
	Ready    ReadyProbe
	Version  string
}

// API is the HTTP layer. Handlers translate between JSON and the
// dispatch service; every authorization decision lives below them.
type API struct {
	mux        *http.ServeMux
	requests   dispatch.Service
	profiles   profile.Store
	authn      Authenticator
	notifier   *notify.Dispatcher
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		requests:   cfg.Requests,
		profiles:   cfg.Profiles,
		authn:      cfg.Auth,
		notifier:   cfg.Notify,
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		rateBurst:  60,
		ratePerSec: 30,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)

	a.mux.HandleFunc("/v1/profiles", a.handleProfilesCollection)
	a.mux.HandleFunc("/v1/profiles/", a.handleProfileResource)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux. Ordering:
// metrics see every request, auth runs after the cheap header
// middleware so unauthenticated garbage is still counted and limited.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "doctrack-api",
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
		"name":    "doctrack-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// publish enqueues a lifecycle notification. Called only after the
// store mutation committed; never blocks the response.
func (a *API) publish(kind notify.EventKind, req dispatch.Request) {
	if a.notifier == nil {
		return
	}
	a.notifier.Publish(notify.Event{Kind: kind, Request: req})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
