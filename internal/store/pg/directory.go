package pg

import (
	"context"
	"database/sql"
	"errors"

	"loomspace.org/internal/authn"
)

var _ authn.Directory = (*Store)(nil)

// IsAdmin reads the platform role from the users table owned by the account
// subsystem. Unknown users are ordinary users, not an error: the credential
// already proved who they are.
func (s *Store) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `select role from users where id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == "admin", nil
}
