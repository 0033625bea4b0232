package session

import "time"

// Kind tags the credential variant. All kinds share one validation envelope;
// the kind-specific claims (tenant, purpose) live on the same row.
type Kind string

const (
	// KindInteractive is a browser session established by login. Carried in a
	// cookie and protected by the double-submit anti-forgery token.
	KindInteractive Kind = "interactive"

	// KindDevice is a long-lived token bound to a persistent native-app
	// connection. Month-scale TTLs are deliberate: the transport
	// re-authenticates continuously, and safety comes from narrow scopes and
	// the revocation path rather than TTL shortness.
	KindDevice Kind = "device"

	// KindService is a short-lived token minted for one trusted
	// inter-component call. Never renewable, bound to a single purpose and an
	// explicit tenant at mint time.
	KindService Kind = "service"
)

func (k Kind) valid() bool {
	switch k {
	case KindInteractive, KindDevice, KindService:
		return true
	}
	return false
}

// Credential is the persisted representation of an issued session or token.
// The opaque secret itself is never stored, only its SHA-256 hash.
type Credential struct {
	ID         string
	OwnerID    string
	Kind       Kind
	Scopes     ScopeSet
	TokenHash  string
	CSRFSecret string // interactive sessions only

	// Service-token claims.
	TenantID   string
	OnBehalfOf string
	Purpose    string

	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time

	CreatedByService string
	CreatedByIP      string
}

// Active reports whether the credential is neither revoked nor expired at the
// given instant. Expiry is computed, never stored; revoked is terminal.
func (c *Credential) Active(now time.Time) bool {
	return c.RevokedAt == nil && now.Before(c.ExpiresAt)
}

// Claims is the normalized result of a successful validation, safe to hand to
// callers. It never exposes the token hash or CSRF secret directly; the
// authenticator compares the anti-forgery header through CSRFToken.
type Claims struct {
	CredentialID string
	OwnerID      string
	Kind         Kind
	Scopes       ScopeSet
	TenantID     string
	OnBehalfOf   string
	Purpose      string
	CSRFToken    string
	ExpiresAt    time.Time
}
