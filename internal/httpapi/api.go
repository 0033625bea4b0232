// Package httpapi is the demo HTTP transport over the trust core. It is a
// caller of the core's two contracts ("authenticate this request", "may this
// actor perform this operation on this node"), not part of them: any other
// transport could replace it.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"loomspace.org/internal/access"
	"loomspace.org/internal/authn"
	"loomspace.org/internal/obs"
	"loomspace.org/internal/session"
)

// ReadyProbe pings the backing store for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API.
type Config struct {
	Authenticator *authn.Authenticator
	Authority     *session.Authority
	Resolver      *access.Resolver
	ReadyProbe    ReadyProbe
	Version       string

	// Demo login verification: user id to bcrypt password hash. A real
	// deployment delegates this to the account subsystem.
	Passwords map[string]string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	authn     *authn.Authenticator
	authority *session.Authority
	resolver  *access.Resolver

	readyProbe ReadyProbe
	version    string
	passwords  map[string]string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		authn:      cfg.Authenticator,
		authority:  cfg.Authority,
		resolver:   cfg.Resolver,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
		passwords:  cfg.Passwords,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/sessions", a.handleLogin)
	a.mux.HandleFunc("DELETE /v1/sessions", a.handleLogout)
	a.mux.HandleFunc("POST /v1/device-tokens", a.handleMintDeviceToken)
	a.mux.HandleFunc("POST /v1/service-tokens", a.handleMintServiceToken)
	a.mux.HandleFunc("GET /v1/nodes/{id}/access", a.handleNodeAccess)
	a.mux.HandleFunc("GET /v1/drives/{id}/access-tree", a.handleAccessTree)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = RateLimit(h, 100, 50)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "loomspace-trust",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": requestIDFrom(r.Context()),
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func clampTTL(ttl time.Duration, def, max time.Duration) time.Duration {
	if ttl <= 0 {
		return def
	}
	if ttl > max {
		return max
	}
	return ttl
}
