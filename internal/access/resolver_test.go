package access_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"loomspace.org/internal/access"
	"loomspace.org/internal/store/memory"
)

func strptr(s string) *string { return &s }

// seedDrive builds the canonical fixture: drive d1 owned by "owner" with a
// three-level chain root -> child -> leaf.
func seedDrive(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	st.PutDrive(access.Drive{ID: "d1", OwnerID: "owner"})
	st.PutNode(access.ResourceNode{ID: "root", DriveID: "d1", Position: 0})
	st.PutNode(access.ResourceNode{ID: "child", ParentID: strptr("root"), DriveID: "d1", Position: 0})
	st.PutNode(access.ResourceNode{ID: "leaf", ParentID: strptr("child"), DriveID: "d1", Position: 0})
	return st
}

func newResolver(t *testing.T, st access.HierarchyStore) *access.Resolver {
	t.Helper()
	r, err := access.NewResolver(st)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolveNoGrantIsAllFalse(t *testing.T) {
	r := newResolver(t, seedDrive(t))

	eff, err := r.Resolve(context.Background(), "stranger", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.CanView || eff.CanEdit || eff.CanShare {
		t.Fatalf("expected all-false for user without grants, got %+v", eff)
	}
	if eff.Reason != access.ReasonNone {
		t.Fatalf("unexpected reason: %s", eff.Reason)
	}
}

func TestResolveOwnerIgnoresGrants(t *testing.T) {
	st := seedDrive(t)
	// A restrictive grant on the owner must be irrelevant.
	st.PutGrant(access.Grant{NodeID: "leaf", UserID: "owner", CanView: true})
	r := newResolver(t, st)

	eff, err := r.Resolve(context.Background(), "owner", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanView || !eff.CanEdit || !eff.CanShare {
		t.Fatalf("owner must have full access, got %+v", eff)
	}
	if eff.Reason != access.ReasonOwner {
		t.Fatalf("unexpected reason: %s", eff.Reason)
	}
}

func TestResolveDriveAdminHasDistinctReason(t *testing.T) {
	st := seedDrive(t)
	st.PutMembership(access.Membership{DriveID: "d1", UserID: "alice", Role: access.RoleAdmin})
	r := newResolver(t, st)

	eff, err := r.Resolve(context.Background(), "alice", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanView || !eff.CanEdit || !eff.CanShare {
		t.Fatalf("drive admin must have full access, got %+v", eff)
	}
	if eff.Reason != access.ReasonDriveAdmin {
		t.Fatalf("unexpected reason: %s", eff.Reason)
	}
}

func TestResolveOrdinaryMemberGetsNoImplicitAccess(t *testing.T) {
	st := seedDrive(t)
	st.PutMembership(access.Membership{DriveID: "d1", UserID: "bob", Role: access.RoleMember})
	r := newResolver(t, st)

	eff, err := r.Resolve(context.Background(), "bob", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eff.CanView || eff.Reason != access.ReasonNone {
		t.Fatalf("plain membership must not confer access, got %+v", eff)
	}
}

func TestResolveClosestAncestorWins(t *testing.T) {
	st := seedDrive(t)
	st.PutGrant(access.Grant{NodeID: "root", UserID: "bob", CanView: true, CanEdit: true, CanShare: true})
	st.PutGrant(access.Grant{NodeID: "child", UserID: "bob", CanView: true})
	r := newResolver(t, st)

	// On leaf the grant on child shadows the wider grant on root.
	eff, err := r.Resolve(context.Background(), "bob", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanView || eff.CanEdit || eff.CanShare {
		t.Fatalf("expected view-only from closest grant, got %+v", eff)
	}
	if eff.Reason != access.ReasonGrant {
		t.Fatalf("unexpected reason: %s", eff.Reason)
	}

	// On child itself the same grant applies directly.
	eff, err = r.Resolve(context.Background(), "bob", "child")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanView || eff.CanEdit {
		t.Fatalf("expected view-only on granting node, got %+v", eff)
	}

	// On root only the root grant is on the chain.
	eff, err = r.Resolve(context.Background(), "bob", "root")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanShare {
		t.Fatalf("expected full grant on root, got %+v", eff)
	}
}

func TestResolveGrantInheritsDownward(t *testing.T) {
	st := seedDrive(t)
	st.PutGrant(access.Grant{NodeID: "child", UserID: "bob", CanView: true, CanEdit: true})
	r := newResolver(t, st)

	eff, err := r.Resolve(context.Background(), "bob", "leaf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !eff.CanView || !eff.CanEdit || eff.CanShare {
		t.Fatalf("leaf must inherit the child grant, got %+v", eff)
	}
}

func TestResolveTrashedNodeBehavesAsMissing(t *testing.T) {
	st := seedDrive(t)
	st.PutNode(access.ResourceNode{ID: "gone", ParentID: strptr("root"), DriveID: "d1", IsTrashed: true})
	r := newResolver(t, st)

	if _, err := r.Resolve(context.Background(), "owner", "gone"); !errors.Is(err, access.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound for trashed node, got %v", err)
	}
}

func TestResolveUnknownNode(t *testing.T) {
	r := newResolver(t, seedDrive(t))
	if _, err := r.Resolve(context.Background(), "owner", "nope"); !errors.Is(err, access.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestResolveDepthBound(t *testing.T) {
	st := memory.New()
	st.PutDrive(access.Drive{ID: "d1", OwnerID: "owner"})
	st.PutNode(access.ResourceNode{ID: "n0", DriveID: "d1"})
	deep := access.MaxTreeDepth + 5
	for i := 1; i <= deep; i++ {
		parent := fmt.Sprintf("n%d", i-1)
		st.PutNode(access.ResourceNode{ID: fmt.Sprintf("n%d", i), ParentID: &parent, DriveID: "d1"})
	}
	r := newResolver(t, st)

	_, err := r.Resolve(context.Background(), "bob", fmt.Sprintf("n%d", deep))
	if !errors.Is(err, access.ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed beyond depth bound, got %v", err)
	}
}

// failingStore errors on every read to exercise the failure taxonomy.
type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) NodeContext(context.Context, string, string) (*access.NodeContext, error) {
	return nil, errBoom
}
func (failingStore) AncestorChain(context.Context, string, int) ([]access.ResourceNode, error) {
	return nil, errBoom
}
func (failingStore) GrantsForUserOnNodes(context.Context, string, []string) (map[string]access.Grant, error) {
	return nil, errBoom
}
func (failingStore) DriveAccess(context.Context, string, string) (*access.Drive, *access.Membership, error) {
	return nil, nil, errBoom
}
func (failingStore) NodesByDrive(context.Context, string) ([]access.ResourceNode, error) {
	return nil, errBoom
}
func (failingStore) GrantsForUserInDrive(context.Context, string, string) ([]access.Grant, error) {
	return nil, errBoom
}

func TestResolveStoreFailureIsNotDenial(t *testing.T) {
	r := newResolver(t, failingStore{})

	_, err := r.Resolve(context.Background(), "bob", "leaf")
	if !errors.Is(err, access.ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}
	if errors.Is(err, access.ErrNodeNotFound) {
		t.Fatalf("store failure must not masquerade as missing node")
	}
}

func TestRequireGatesOnPredicate(t *testing.T) {
	st := seedDrive(t)
	st.PutGrant(access.Grant{NodeID: "root", UserID: "bob", CanView: true})
	r := newResolver(t, st)

	if _, err := r.Require(context.Background(), "bob", "leaf", access.CanView); err != nil {
		t.Fatalf("Require(CanView): %v", err)
	}
	if _, err := r.Require(context.Background(), "bob", "leaf", access.CanEdit); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
