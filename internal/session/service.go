package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"loomspace.org/internal/audit"
	"loomspace.org/internal/ids"
	"loomspace.org/internal/obs"
)

const (
	defaultIssuer = "loomspace-trust"

	// Service tokens are minted for one trusted inter-component call and must
	// stay short-lived.
	maxServiceTTL = 15 * time.Minute

	secretLength = 32
)

// Authority issues, validates and revokes credentials. Interactive and device
// tokens are opaque "<id>.<secret>" pairs checked against a stored hash;
// service tokens are signed JWTs whose jti is the credential row id, so
// signature verification and the revocation path both apply.
type Authority struct {
	store  Store
	now    func() time.Time
	issuer string

	// HS256 key for service tokens. Service-token issuance fails when unset.
	signingKey []byte
}

// Option configures Authority behavior.
type Option func(*Authority) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authority) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the issuer claim embedded in service tokens.
func WithIssuer(issuer string) Option {
	return func(a *Authority) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			a.issuer = issuer
		}
		return nil
	}
}

// WithServiceTokenKey enables service-token issuance and verification using
// the provided HS256 secret.
func WithServiceTokenKey(key []byte) Option {
	return func(a *Authority) error {
		if len(key) == 0 {
			return errors.New("session: service token key is empty")
		}
		a.signingKey = key
		return nil
	}
}

// NewAuthority constructs an Authority over the given credential store.
func NewAuthority(store Store, opts ...Option) (*Authority, error) {
	if store == nil {
		return nil, errors.New("session: credential store is required")
	}
	a := &Authority{
		store:  store,
		now:    time.Now,
		issuer: defaultIssuer,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// CreateParams describes one credential to mint.
type CreateParams struct {
	OwnerID string
	Kind    Kind
	Scopes  []string
	TTL     time.Duration

	// Service tokens only: the tenant and delegation claims, and the single
	// declared purpose the token is bound to.
	TenantID   string
	OnBehalfOf string
	Purpose    string

	IssuerService string
	IssuerIP      string
}

// Create mints a credential, persists its row and returns the opaque token.
// The token is returned exactly once; only its hash is stored.
func (a *Authority) Create(ctx context.Context, p CreateParams) (string, *Credential, error) {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	if p.OwnerID == "" {
		return "", nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if !p.Kind.valid() {
		return "", nil, fmt.Errorf("%w: unknown credential kind %q", ErrInvalidInput, p.Kind)
	}
	if p.TTL <= 0 {
		return "", nil, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	if p.Kind == KindService {
		if strings.TrimSpace(p.Purpose) == "" || strings.TrimSpace(p.TenantID) == "" {
			return "", nil, fmt.Errorf("%w: service tokens require purpose and tenant", ErrInvalidInput)
		}
		if p.TTL > maxServiceTTL {
			return "", nil, fmt.Errorf("%w: service token ttl exceeds %s", ErrInvalidInput, maxServiceTTL)
		}
		if len(a.signingKey) == 0 {
			return "", nil, errors.New("session: service token key is not configured")
		}
	}

	now := a.now().UTC()
	cred := &Credential{
		ID:               ids.New(),
		OwnerID:          p.OwnerID,
		Kind:             p.Kind,
		Scopes:           NewScopeSet(p.Scopes),
		TenantID:         strings.TrimSpace(p.TenantID),
		OnBehalfOf:       strings.TrimSpace(p.OnBehalfOf),
		Purpose:          strings.TrimSpace(p.Purpose),
		IssuedAt:         now,
		ExpiresAt:        now.Add(p.TTL),
		CreatedByService: strings.TrimSpace(p.IssuerService),
		CreatedByIP:      strings.TrimSpace(p.IssuerIP),
	}

	var token string
	switch p.Kind {
	case KindService:
		signed, err := a.signServiceToken(cred)
		if err != nil {
			return "", nil, err
		}
		token = signed
	default:
		secret, err := randomSecret()
		if err != nil {
			return "", nil, err
		}
		token = cred.ID + "." + secret
		if p.Kind == KindInteractive {
			csrf, err := randomSecret()
			if err != nil {
				return "", nil, err
			}
			cred.CSRFSecret = csrf
		}
	}
	cred.TokenHash = hashToken(token)

	if err := a.store.Create(ctx, cred); err != nil {
		return "", nil, fmt.Errorf("session: persist credential: %w", err)
	}

	_ = audit.LogEvent(ctx, "session.created", map[string]any{
		"credential_id": cred.ID,
		"owner_id":      cred.OwnerID,
		"kind":          string(cred.Kind),
		"scopes":        []string(cred.Scopes),
		"expires_at":    cred.ExpiresAt.Format(time.RFC3339),
		"issuer_svc":    cred.CreatedByService,
		"issuer_ip":     cred.CreatedByIP,
	})
	return token, cred, nil
}

// Validate checks a presented token and returns its claims. An invalid token,
// whatever the cause, yields (nil, nil): malformed, unknown, revoked and
// expired are indistinguishable to the caller. The audit log records the
// specific cause. A non-nil error means the credential store itself failed.
func (a *Authority) Validate(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return a.reject(ctx, "", "missing"), nil
	}

	var (
		credID string
		viaJWT bool
	)
	switch strings.Count(token, ".") {
	case 1:
		credID = token[:strings.Index(token, ".")]
	case 2:
		id, ok := a.verifyServiceToken(token)
		if !ok {
			return a.reject(ctx, "", "bad-signature"), nil
		}
		credID = id
		viaJWT = true
	default:
		return a.reject(ctx, "", "malformed"), nil
	}
	if credID == "" {
		return a.reject(ctx, "", "malformed"), nil
	}

	cred, err := a.store.Find(ctx, credID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return a.reject(ctx, credID, "unknown"), nil
		}
		return nil, fmt.Errorf("session: load credential: %w", err)
	}
	if viaJWT != (cred.Kind == KindService) {
		return a.reject(ctx, credID, "kind-mismatch"), nil
	}
	if !compareTokenHash(cred.TokenHash, token) {
		return a.reject(ctx, credID, "secret-mismatch"), nil
	}
	if cred.RevokedAt != nil {
		return a.reject(ctx, credID, "revoked"), nil
	}
	if !a.now().Before(cred.ExpiresAt) {
		return a.reject(ctx, credID, "expired"), nil
	}

	return &Claims{
		CredentialID: cred.ID,
		OwnerID:      cred.OwnerID,
		Kind:         cred.Kind,
		Scopes:       cred.Scopes,
		TenantID:     cred.TenantID,
		OnBehalfOf:   cred.OnBehalfOf,
		Purpose:      cred.Purpose,
		CSRFToken:    cred.CSRFSecret,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

// Revoke transitions a credential to revoked. Idempotent: revoking an already
// revoked or unknown token succeeds silently and only logs the anomaly.
func (a *Authority) Revoke(ctx context.Context, token, reason string) error {
	credID := a.credentialIDForRevocation(token)
	if credID == "" {
		_ = audit.LogEvent(ctx, "session.revoke.anomaly", map[string]any{
			"cause":  "unparseable token",
			"reason": reason,
		})
		return nil
	}

	transitioned, err := a.store.Revoke(ctx, credID, reason, a.now().UTC())
	if err != nil {
		return fmt.Errorf("session: revoke credential: %w", err)
	}
	if !transitioned {
		_ = audit.LogEvent(ctx, "session.revoke.anomaly", map[string]any{
			"credential_id": credID,
			"cause":         "already revoked or unknown",
			"reason":        reason,
		})
		return nil
	}
	_ = audit.LogEvent(ctx, "session.revoked", map[string]any{
		"credential_id": credID,
		"reason":        reason,
	})
	return nil
}

// RevokeAllForOwner revokes every active credential of the owner, for logout
// everywhere, security events and owner deactivation.
func (a *Authority) RevokeAllForOwner(ctx context.Context, ownerID, reason string) (int, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	n, err := a.store.RevokeAllForOwner(ctx, ownerID, reason, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: revoke credentials of %s: %w", ownerID, err)
	}
	_ = audit.LogEvent(ctx, "session.revoked_all", map[string]any{
		"owner_id": ownerID,
		"reason":   reason,
		"count":    n,
	})
	return n, nil
}

// Extend pushes out the expiry of an active interactive or device credential.
// Service tokens are never renewable.
func (a *Authority) Extend(ctx context.Context, token string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		return time.Time{}, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	claims, err := a.Validate(ctx, token)
	if err != nil {
		return time.Time{}, err
	}
	if claims == nil {
		return time.Time{}, fmt.Errorf("%w: credential is not active", ErrInvalidInput)
	}
	if claims.Kind == KindService {
		return time.Time{}, fmt.Errorf("%w: service tokens are not renewable", ErrInvalidInput)
	}
	expiresAt := a.now().UTC().Add(ttl)
	ok, err := a.store.UpdateExpiry(ctx, claims.CredentialID, expiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("session: extend credential: %w", err)
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: credential is not active", ErrInvalidInput)
	}
	return expiresAt, nil
}

func (a *Authority) reject(ctx context.Context, credID, cause string) *Claims {
	obs.ObserveAuth("credential", "rejected")
	fields := map[string]any{"cause": cause}
	if credID != "" {
		fields["credential_id"] = credID
	}
	_ = audit.LogEvent(ctx, "session.validate.rejected", fields)
	return nil
}

// serviceClaims is the JWT payload of a service token.
type serviceClaims struct {
	TenantID   string   `json:"tenant"`
	OnBehalfOf string   `json:"on_behalf_of,omitempty"`
	Purpose    string   `json:"purpose"`
	Scopes     []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (a *Authority) signServiceToken(cred *Credential) (string, error) {
	claims := serviceClaims{
		TenantID:   cred.TenantID,
		OnBehalfOf: cred.OnBehalfOf,
		Purpose:    cred.Purpose,
		Scopes:     cred.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   cred.OwnerID,
			ID:        cred.ID,
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("session: sign service token: %w", err)
	}
	return signed, nil
}

// verifyServiceToken checks the signature and issuer and returns the embedded
// credential id. Expiry and revocation are checked against the stored row, not
// the claims, so a revoked token fails even within its signed lifetime.
func (a *Authority) verifyServiceToken(token string) (string, bool) {
	if len(a.signingKey) == 0 {
		return "", false
	}
	parsed, err := jwt.ParseWithClaims(token, &serviceClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.signingKey, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", false
	}
	claims, ok := parsed.Claims.(*serviceClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.ID) == "" {
		return "", false
	}
	return claims.ID, true
}

func (a *Authority) credentialIDForRevocation(token string) string {
	token = strings.TrimSpace(token)
	switch strings.Count(token, ".") {
	case 1:
		return token[:strings.Index(token, ".")]
	case 2:
		id, ok := a.verifyServiceToken(token)
		if !ok {
			return ""
		}
		return id
	default:
		return ""
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func compareTokenHash(expectedHash, token string) bool {
	actual := hashToken(token)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
