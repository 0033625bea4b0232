package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loomspace.org/internal/audit"
	"loomspace.org/internal/authn"
	"loomspace.org/internal/ratelimit"
	"loomspace.org/internal/session"
)

const (
	interactiveTTL = 12 * time.Hour
	maxDeviceTTL   = 90 * 24 * time.Hour
	serviceTTL     = 5 * time.Minute
)

// authenticate runs the core authenticator and writes the normalized failure
// responses. Callers only proceed on ok.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request, opts authn.Options) (authn.Actor, bool) {
	actor, err := a.authn.Authenticate(r.Context(), requestFrom(r), opts)
	if err != nil {
		var rl *ratelimit.RateLimitedError
		switch {
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		case errors.Is(err, authn.ErrUnauthenticated):
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		default:
			writeError(w, r, http.StatusInternalServerError, "authentication error")
		}
		return authn.Actor{}, false
	}
	// Audit entries emitted further down the handler carry the actor.
	*r = *r.WithContext(audit.WithActor(r.Context(), actor.ID))
	return actor, true
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and password are required")
		return
	}

	hash, ok := a.passwords[req.UserID]
	if ok {
		if err := session.VerifyPassword(hash, req.Password); err != nil {
			ok = false
		}
	}
	if !ok {
		_ = audit.LogEvent(r.Context(), "login.rejected", map[string]any{
			"user_id": req.UserID,
			"ip":      clientIP(r),
		})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, cred, err := a.authority.Create(r.Context(), session.CreateParams{
		OwnerID:  req.UserID,
		Kind:     session.KindInteractive,
		TTL:      interactiveTTL,
		IssuerIP: clientIP(r),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session creation failed")
		return
	}

	setSessionCookie(w, token, int(interactiveTTL.Seconds()))
	writeJSON(w, http.StatusOK, loginResponse{
		CSRFToken: cred.CSRFSecret,
		ExpiresAt: cred.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	opts := authn.Options{Allow: []session.Kind{session.KindInteractive}, RequireCSRF: true}
	if _, ok := a.authenticate(w, r, opts); !ok {
		return
	}
	if err := a.authority.Revoke(r.Context(), requestFrom(r).SessionCookie, "logout"); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type deviceTokenRequest struct {
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type deviceTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleMintDeviceToken issues a long-lived bearer token for the calling
// user's own devices (sync clients, mobile apps). Scopes narrow what the
// token may do; the TTL is capped at 90 days.
func (a *API) handleMintDeviceToken(w http.ResponseWriter, r *http.Request) {
	opts := authn.Options{Allow: []session.Kind{session.KindInteractive}, RequireCSRF: true}
	actor, ok := a.authenticate(w, r, opts)
	if !ok {
		return
	}

	var req deviceTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ttl := clampTTL(time.Duration(req.TTLSeconds)*time.Second, 30*24*time.Hour, maxDeviceTTL)

	token, cred, err := a.authority.Create(r.Context(), session.CreateParams{
		OwnerID:  actor.ID,
		Kind:     session.KindDevice,
		Scopes:   req.Scopes,
		TTL:      ttl,
		IssuerIP: clientIP(r),
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token creation failed")
		return
	}
	writeJSON(w, http.StatusOK, deviceTokenResponse{Token: token, ExpiresAt: cred.ExpiresAt})
}

type serviceTokenRequest struct {
	OwnerID    string   `json:"owner_id"`
	TenantID   string   `json:"tenant_id"`
	OnBehalfOf string   `json:"on_behalf_of"`
	Purpose    string   `json:"purpose"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type serviceTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleMintServiceToken lets a platform administrator mint a short-lived
// service token bound to one purpose, for triggering a trusted
// inter-component call.
func (a *API) handleMintServiceToken(w http.ResponseWriter, r *http.Request) {
	opts := authn.Options{
		Allow:       []session.Kind{session.KindInteractive, session.KindService},
		RequireCSRF: true,
	}
	actor, ok := a.authenticate(w, r, opts)
	if !ok {
		return
	}
	if actor.Role != authn.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "administrator role required")
		return
	}

	var req serviceTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	ttl := clampTTL(time.Duration(req.TTLSeconds)*time.Second, serviceTTL, serviceTTL)

	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		owner = actor.ID
	}
	token, cred, err := a.authority.Create(r.Context(), session.CreateParams{
		OwnerID:       owner,
		Kind:          session.KindService,
		Scopes:        req.Scopes,
		TTL:           ttl,
		TenantID:      req.TenantID,
		OnBehalfOf:    req.OnBehalfOf,
		Purpose:       req.Purpose,
		IssuerService: "httpapi",
		IssuerIP:      clientIP(r),
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token creation failed")
		return
	}
	writeJSON(w, http.StatusOK, serviceTokenResponse{Token: token, ExpiresAt: cred.ExpiresAt})
}
