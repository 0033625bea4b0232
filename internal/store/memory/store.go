// Package memory holds the in-process store used by tests and single-node
// deployments. It implements the credential store, the read-only hierarchy
// view and the user directory over mutex-guarded maps.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loomspace.org/internal/access"
	"loomspace.org/internal/session"
)

type Store struct {
	mu          sync.RWMutex
	credentials map[string]*session.Credential
	drives      map[string]access.Drive
	nodes       map[string]access.ResourceNode
	memberships map[string]access.Membership // driveID + "/" + userID
	grants      map[string]access.Grant      // nodeID + "/" + userID
	admins      map[string]bool
}

func New() *Store {
	return &Store{
		credentials: make(map[string]*session.Credential),
		drives:      make(map[string]access.Drive),
		nodes:       make(map[string]access.ResourceNode),
		memberships: make(map[string]access.Membership),
		grants:      make(map[string]access.Grant),
		admins:      make(map[string]bool),
	}
}

// --- seeding helpers (the document subsystem owns these rows in production) ---

func (s *Store) PutDrive(d access.Drive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drives[d.ID] = d
}

func (s *Store) PutNode(n access.ResourceNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

func (s *Store) PutMembership(m access.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.DriveID+"/"+m.UserID] = m
}

func (s *Store) PutGrant(g access.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.NodeID+"/"+g.UserID] = g
}

func (s *Store) DeleteGrant(nodeID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, nodeID+"/"+userID)
}

func (s *Store) SetAdmin(userID string, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[userID] = admin
}

// --- authn.Directory ---

func (s *Store) IsAdmin(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admins[userID], nil
}

// --- session.Store ---

func (s *Store) Create(_ context.Context, c *session.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[c.ID]; exists {
		return fmt.Errorf("credential %s already exists", c.ID)
	}
	cp := *c
	s.credentials[c.ID] = &cp
	return nil
}

func (s *Store) Find(_ context.Context, id string) (*session.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) Revoke(_ context.Context, id, _ string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.RevokedAt != nil {
		return false, nil
	}
	t := at
	c.RevokedAt = &t
	return true, nil
}

func (s *Store) RevokeAllForOwner(_ context.Context, ownerID, _ string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.credentials {
		if c.OwnerID == ownerID && c.RevokedAt == nil {
			t := at
			c.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateExpiry(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.RevokedAt != nil || !time.Now().Before(c.ExpiresAt) {
		return false, nil
	}
	c.ExpiresAt = expiresAt
	return true, nil
}

// --- access.HierarchyStore ---

func (s *Store) NodeContext(_ context.Context, nodeID, actorID string) (*access.NodeContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, access.ErrNodeNotFound
	}
	drive, ok := s.drives[node.DriveID]
	if !ok {
		return nil, fmt.Errorf("node %s references missing drive %s", nodeID, node.DriveID)
	}
	nc := &access.NodeContext{Node: node, Drive: drive}
	if m, ok := s.memberships[drive.ID+"/"+actorID]; ok {
		mm := m
		nc.Membership = &mm
	}
	return nc, nil
}

func (s *Store) AncestorChain(_ context.Context, nodeID string, maxDepth int) ([]access.ResourceNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []access.ResourceNode
	id := nodeID
	for len(chain) < maxDepth {
		node, ok := s.nodes[id]
		if !ok {
			if len(chain) == 0 {
				return nil, access.ErrNodeNotFound
			}
			break
		}
		chain = append(chain, node)
		if node.ParentID == nil {
			break
		}
		id = *node.ParentID
	}
	return chain, nil
}

func (s *Store) GrantsForUserOnNodes(_ context.Context, userID string, nodeIDs []string) (map[string]access.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]access.Grant)
	for _, nodeID := range nodeIDs {
		if g, ok := s.grants[nodeID+"/"+userID]; ok {
			out[nodeID] = g
		}
	}
	return out, nil
}

func (s *Store) DriveAccess(_ context.Context, driveID, userID string) (*access.Drive, *access.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drive, ok := s.drives[driveID]
	if !ok {
		return nil, nil, access.ErrDriveNotFound
	}
	d := drive
	if m, ok := s.memberships[driveID+"/"+userID]; ok {
		mm := m
		return &d, &mm, nil
	}
	return &d, nil, nil
}

func (s *Store) NodesByDrive(_ context.Context, driveID string) ([]access.ResourceNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.ResourceNode
	for _, n := range s.nodes {
		if n.DriveID == driveID && !n.IsTrashed {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) GrantsForUserInDrive(_ context.Context, userID, driveID string) ([]access.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.Grant
	for _, g := range s.grants {
		if g.UserID != userID {
			continue
		}
		node, ok := s.nodes[g.NodeID]
		if !ok || node.DriveID != driveID {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}
