package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"loomspace.org/internal/access"
)

var _ access.HierarchyStore = (*Store)(nil)

// NodeContext loads the node, its drive and the actor's membership in one
// query, so the ownership decision never spans a torn read.
func (s *Store) NodeContext(ctx context.Context, nodeID, actorID string) (*access.NodeContext, error) {
	row := s.db.QueryRowContext(ctx, `
		select n.id, n.parent_id, n.drive_id, n.position, n.is_trashed,
		       d.id, d.owner_id, m.role
		from nodes n
		join drives d on d.id = n.drive_id
		left join memberships m on m.drive_id = d.id and m.user_id = $2
		where n.id = $1
	`, nodeID, actorID)

	var (
		nc       access.NodeContext
		parentID sql.NullString
		role     sql.NullString
	)
	if err := row.Scan(&nc.Node.ID, &parentID, &nc.Node.DriveID, &nc.Node.Position, &nc.Node.IsTrashed,
		&nc.Drive.ID, &nc.Drive.OwnerID, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNodeNotFound
		}
		return nil, err
	}
	if parentID.Valid {
		p := parentID.String
		nc.Node.ParentID = &p
	}
	if role.Valid {
		nc.Membership = &access.Membership{
			DriveID: nc.Drive.ID,
			UserID:  actorID,
			Role:    access.MembershipRole(role.String),
		}
	}
	return &nc, nil
}

func (s *Store) AncestorChain(ctx context.Context, nodeID string, maxDepth int) ([]access.ResourceNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		with recursive chain as (
			select id, parent_id, drive_id, position, is_trashed, 1 as depth
			from nodes where id = $1
			union all
			select n.id, n.parent_id, n.drive_id, n.position, n.is_trashed, c.depth + 1
			from nodes n
			join chain c on n.id = c.parent_id
			where c.depth < $2
		)
		select id, parent_id, drive_id, position, is_trashed from chain order by depth
	`, nodeID, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []access.ResourceNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, access.ErrNodeNotFound
	}
	return chain, nil
}

func (s *Store) GrantsForUserOnNodes(ctx context.Context, userID string, nodeIDs []string) (map[string]access.Grant, error) {
	if len(nodeIDs) == 0 {
		return map[string]access.Grant{}, nil
	}
	placeholders := make([]string, len(nodeIDs))
	args := make([]any, 0, len(nodeIDs)+1)
	args = append(args, userID)
	for i, id := range nodeIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		select node_id, user_id, can_view, can_edit, can_share
		from grants where user_id = $1 and node_id in (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]access.Grant)
	for rows.Next() {
		var g access.Grant
		if err := rows.Scan(&g.NodeID, &g.UserID, &g.CanView, &g.CanEdit, &g.CanShare); err != nil {
			return nil, err
		}
		out[g.NodeID] = g
	}
	return out, rows.Err()
}

func (s *Store) DriveAccess(ctx context.Context, driveID, userID string) (*access.Drive, *access.Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		select d.id, d.owner_id, m.role
		from drives d
		left join memberships m on m.drive_id = d.id and m.user_id = $2
		where d.id = $1
	`, driveID, userID)

	var (
		d    access.Drive
		role sql.NullString
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, access.ErrDriveNotFound
		}
		return nil, nil, err
	}
	if role.Valid {
		return &d, &access.Membership{DriveID: d.ID, UserID: userID, Role: access.MembershipRole(role.String)}, nil
	}
	return &d, nil, nil
}

func (s *Store) NodesByDrive(ctx context.Context, driveID string) ([]access.ResourceNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, parent_id, drive_id, position, is_trashed
		from nodes where drive_id = $1 and not is_trashed
		order by position, id
	`, driveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.ResourceNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) GrantsForUserInDrive(ctx context.Context, userID, driveID string) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select g.node_id, g.user_id, g.can_view, g.can_edit, g.can_share
		from grants g
		join nodes n on n.id = g.node_id
		where g.user_id = $1 and n.drive_id = $2
	`, userID, driveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Grant
	for rows.Next() {
		var g access.Grant
		if err := rows.Scan(&g.NodeID, &g.UserID, &g.CanView, &g.CanEdit, &g.CanShare); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanNode(rows *sql.Rows) (access.ResourceNode, error) {
	var (
		n        access.ResourceNode
		parentID sql.NullString
	)
	if err := rows.Scan(&n.ID, &parentID, &n.DriveID, &n.Position, &n.IsTrashed); err != nil {
		return access.ResourceNode{}, err
	}
	if parentID.Valid {
		p := parentID.String
		n.ParentID = &p
	}
	return n, nil
}
