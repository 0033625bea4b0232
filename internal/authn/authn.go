// Package authn is the single entry point that turns raw credential material
// into a normalized actor identity. Every failure, whatever the cause,
// collapses into ErrUnauthenticated; the audit log keeps the specifics.
package authn

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"loomspace.org/internal/audit"
	"loomspace.org/internal/obs"
	"loomspace.org/internal/ratelimit"
	"loomspace.org/internal/session"
)

// ErrUnauthenticated is the one normalized authentication failure. Callers
// branch on it without knowing which check failed.
var ErrUnauthenticated = errors.New("authn: unauthenticated")

// Role distinguishes ordinary users from platform administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is an authenticated identity. Created on successful authentication,
// never mutated, discarded at request end.
type Actor struct {
	ID          string
	Role        Role
	ServiceName string
	Scopes      session.ScopeSet
}

// Request is the opaque, transport-agnostic descriptor of one inbound
// operation's credential material.
type Request struct {
	SessionCookie string
	BearerToken   string
	ServiceToken  string
	CSRFToken     string
	RemoteIP      string
}

// Options selects which credential kinds an endpoint accepts and whether the
// cookie path must pass the double-submit anti-forgery check.
type Options struct {
	Allow       []session.Kind
	RequireCSRF bool
}

func (o Options) allows(k session.Kind) bool {
	for _, a := range o.Allow {
		if a == k {
			return true
		}
	}
	return false
}

// Directory is the read-only view of platform users needed to attach a role
// to the actor. Owned by the account subsystem.
type Directory interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Authenticator combines the session authority and the rate limiter into the
// "authenticate this request" contract.
type Authenticator struct {
	authority *session.Authority
	limiter   *ratelimit.Limiter
	directory Directory

	attemptLimit  int64
	attemptWindow time.Duration
}

// Config wires an Authenticator. Limiter and Directory are optional: without
// a limiter attempts are not throttled, without a directory every actor is an
// ordinary user.
type Config struct {
	Authority *session.Authority
	Limiter   *ratelimit.Limiter
	Directory Directory

	// AttemptLimit/AttemptWindow throttle authentication attempts per client
	// IP. Zero values pick the defaults.
	AttemptLimit  int64
	AttemptWindow time.Duration
}

const (
	defaultAttemptLimit  = 120
	defaultAttemptWindow = time.Minute
)

func New(cfg Config) (*Authenticator, error) {
	if cfg.Authority == nil {
		return nil, errors.New("authn: session authority is required")
	}
	a := &Authenticator{
		authority:     cfg.Authority,
		limiter:       cfg.Limiter,
		directory:     cfg.Directory,
		attemptLimit:  cfg.AttemptLimit,
		attemptWindow: cfg.AttemptWindow,
	}
	if a.attemptLimit <= 0 {
		a.attemptLimit = defaultAttemptLimit
	}
	if a.attemptWindow <= 0 {
		a.attemptWindow = defaultAttemptWindow
	}
	return a, nil
}

// Authenticate examines the request's credential material in fixed precedence
// order (session cookie, bearer token, service token), validates it and
// returns the actor. A tripped rate limit surfaces as *RateLimitedError, any
// other failure as ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, req Request, opts Options) (Actor, error) {
	if a.limiter != nil && req.RemoteIP != "" {
		if err := a.limiter.Enforce(ctx, "authn:"+req.RemoteIP, a.attemptLimit, a.attemptWindow); err != nil {
			var rl *ratelimit.RateLimitedError
			if errors.As(err, &rl) {
				_ = audit.LogEvent(ctx, "authn.throttled", map[string]any{
					"ip":          req.RemoteIP,
					"retry_after": rl.RetryAfter.String(),
				})
				return Actor{}, err
			}
			return Actor{}, fmt.Errorf("authn: attempt limiter: %w", err)
		}
	}

	material, kind, ok := a.pick(req, opts)
	if !ok {
		return Actor{}, a.fail(ctx, "", "missing credential", req.RemoteIP)
	}

	claims, err := a.authority.Validate(ctx, material)
	if err != nil {
		return Actor{}, fmt.Errorf("authn: validate credential: %w", err)
	}
	if claims == nil {
		return Actor{}, a.fail(ctx, string(kind), "invalid credential", req.RemoteIP)
	}
	if claims.Kind != kind {
		return Actor{}, a.fail(ctx, string(kind), "credential kind mismatch", req.RemoteIP)
	}

	if kind == session.KindInteractive && opts.RequireCSRF {
		if !csrfMatches(claims.CSRFToken, req.CSRFToken) {
			return Actor{}, a.fail(ctx, string(kind), "csrf mismatch", req.RemoteIP)
		}
	}

	actor := Actor{ID: claims.OwnerID, Role: RoleUser, Scopes: claims.Scopes}
	if kind == session.KindService {
		actor.ServiceName = claims.Purpose
		if claims.OnBehalfOf != "" {
			actor.ID = claims.OnBehalfOf
		}
	}
	if a.directory != nil {
		admin, err := a.directory.IsAdmin(ctx, actor.ID)
		if err != nil {
			return Actor{}, fmt.Errorf("authn: directory lookup: %w", err)
		}
		if admin {
			actor.Role = RoleAdmin
		}
	}

	obs.ObserveAuth(string(kind), "ok")
	return actor, nil
}

// pick applies the fixed precedence order over the kinds the endpoint allows.
func (a *Authenticator) pick(req Request, opts Options) (material string, kind session.Kind, ok bool) {
	order := []struct {
		material string
		kind     session.Kind
	}{
		{req.SessionCookie, session.KindInteractive},
		{req.BearerToken, session.KindDevice},
		{req.ServiceToken, session.KindService},
	}
	for _, c := range order {
		if c.material != "" && opts.allows(c.kind) {
			return c.material, c.kind, true
		}
	}
	return "", "", false
}

func (a *Authenticator) fail(ctx context.Context, kind, cause, ip string) error {
	if kind == "" {
		kind = "none"
	}
	obs.ObserveAuth(kind, "rejected")
	_ = audit.LogEvent(ctx, "authn.rejected", map[string]any{
		"kind":  kind,
		"cause": cause,
		"ip":    ip,
	})
	return ErrUnauthenticated
}

// csrfMatches performs the double-submit comparison between the anti-forgery
// header and the token bound to the session, in constant time.
func csrfMatches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	if len(expected) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
