// Package httpapi is the HTTP surface of the auth layer: the
// signed-request gate for service-to-service calls, the credential login
// endpoint, SSO ticket issuance and consumption, and API key
// administration.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"fieldstack.io/internal/apikey"
	"fieldstack.io/internal/login"
	"fieldstack.io/internal/nonce"
	"fieldstack.io/internal/obs"
	"fieldstack.io/internal/ticket"
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

// API wires the auth components into an http.Handler.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	keys          *apikey.Registry
	requestNonces nonce.Store
	tickets       *ticket.Issuer
	authenticator *login.Authenticator
	production    bool
	now           func() time.Time
}

// Config collects the collaborators the API composes.
type Config struct {
	Ready         ReadyProbe
	Version       string
	Keys          *apikey.Registry
	RequestNonces nonce.Store
	Tickets       *ticket.Issuer
	Authenticator *login.Authenticator
	Production    bool
	// Clock override for tests.
	Now func() time.Time
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.Ready,
		version:       cfg.Version,
		keys:          cfg.Keys,
		requestNonces: cfg.RequestNonces,
		tickets:       cfg.Tickets,
		authenticator: cfg.Authenticator,
		production:    cfg.Production,
		now:           cfg.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/login", RateLimit(http.HandlerFunc(a.Login), 5, 5))
	a.mux.HandleFunc("/v1/sso/consume", a.ConsumeTicket)

	// Signed-request surface.
	a.mux.Handle("/v1/sso/ticket", a.withSignedRequest(http.HandlerFunc(a.IssueTicket)))
	a.mux.Handle("/v1/keys", a.withSignedRequest(http.HandlerFunc(a.Keys)))
	a.mux.Handle("/v1/keys/", a.withSignedRequest(http.HandlerFunc(a.Keys)))
	a.mux.Handle("/v1/federation/escalations", a.withSignedRequest(http.HandlerFunc(a.CreateEscalation)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fieldstack-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error": http.StatusText(status),
		"code":  code,
	})
}
