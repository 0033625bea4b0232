package session

import (
	"context"
	"time"
)

// Store persists credentials. Rows are exclusively owned and mutated by the
// Authority; no other component writes them. Implementations must make Revoke
// a conditional transition (active to revoked only) so two concurrent revokes,
// or a revoke racing a validation, cannot resurrect or double-apply state.
type Store interface {
	Create(ctx context.Context, c *Credential) error

	// Find returns ErrNotFound when no credential row exists for the id.
	Find(ctx context.Context, id string) (*Credential, error)

	// Revoke sets RevokedAt if and only if the credential exists and is not
	// already revoked. The bool reports whether a transition happened.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// RevokeAllForOwner revokes every active credential of the owner and
	// returns how many transitioned. Used on owner deactivation and security
	// events.
	RevokeAllForOwner(ctx context.Context, ownerID, reason string, at time.Time) (int, error)

	// UpdateExpiry extends an active credential, conditionally: expired or
	// revoked rows are left untouched and the bool reports false.
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}
