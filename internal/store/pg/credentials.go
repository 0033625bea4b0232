package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"loomspace.org/internal/session"
)

var _ session.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, c *session.Credential) error {
	scopes, err := json.Marshal([]string(c.Scopes))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into credentials(
			id, owner_id, kind, scopes, token_hash, csrf_secret,
			tenant_id, on_behalf_of, purpose,
			issued_at, expires_at, created_by_service, created_by_ip)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, c.ID, c.OwnerID, string(c.Kind), scopes, c.TokenHash, c.CSRFSecret,
		c.TenantID, c.OnBehalfOf, c.Purpose,
		c.IssuedAt, c.ExpiresAt, c.CreatedByService, c.CreatedByIP)
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*session.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, owner_id, kind, scopes, token_hash, csrf_secret,
		       tenant_id, on_behalf_of, purpose,
		       issued_at, expires_at, revoked_at, created_by_service, created_by_ip
		from credentials where id=$1
	`, id)

	var (
		c         session.Credential
		kind      string
		scopesRaw []byte
		revokedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &kind, &scopesRaw, &c.TokenHash, &c.CSRFSecret,
		&c.TenantID, &c.OnBehalfOf, &c.Purpose,
		&c.IssuedAt, &c.ExpiresAt, &revokedAt, &c.CreatedByService, &c.CreatedByIP); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	c.Kind = session.Kind(kind)
	var scopes []string
	if err := json.Unmarshal(scopesRaw, &scopes); err != nil {
		return nil, err
	}
	c.Scopes = session.ScopeSet(scopes)
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	return &c, nil
}

// Revoke is a conditional transition: only a not-yet-revoked row is touched,
// so concurrent revokes apply exactly once.
func (s *Store) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update credentials set revoked_at=$2, revoke_reason=$3
		where id=$1 and revoked_at is null
	`, id, at, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RevokeAllForOwner(ctx context.Context, ownerID, reason string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update credentials set revoked_at=$2, revoke_reason=$3
		where owner_id=$1 and revoked_at is null and expires_at > $2
	`, ownerID, at, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update credentials set expires_at=$2
		where id=$1 and revoked_at is null and expires_at > now()
	`, id, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpired deletes credential rows whose expiry passed more than the
// retention window ago. Run by the retention sweep, not on the request path.
func (s *Store) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from credentials where expires_at < $1`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
