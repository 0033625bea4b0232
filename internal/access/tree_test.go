package access_test

import (
	"context"
	"errors"
	"testing"

	"loomspace.org/internal/access"
	"loomspace.org/internal/store/memory"
)

// seedTreeDrive builds drive d1 with two roots and a nested branch:
//
//	a(pos 1) -> a1(pos 2), a2(pos 1) -> a2x(pos 0)
//	b(pos 0)
func seedTreeDrive(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	st.PutDrive(access.Drive{ID: "d1", OwnerID: "owner"})
	st.PutNode(access.ResourceNode{ID: "a", DriveID: "d1", Position: 1})
	st.PutNode(access.ResourceNode{ID: "a1", ParentID: strptr("a"), DriveID: "d1", Position: 2})
	st.PutNode(access.ResourceNode{ID: "a2", ParentID: strptr("a"), DriveID: "d1", Position: 1})
	st.PutNode(access.ResourceNode{ID: "a2x", ParentID: strptr("a2"), DriveID: "d1", Position: 0})
	st.PutNode(access.ResourceNode{ID: "b", DriveID: "d1", Position: 0})
	return st
}

func TestBuildTreeStructureAndOrder(t *testing.T) {
	r := newResolver(t, seedTreeDrive(t))

	tree, err := r.BuildTree(context.Background(), "d1", "bob")
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(tree))
	}
	if tree[0].Node.ID != "b" || tree[1].Node.ID != "a" {
		t.Fatalf("roots out of position order: %s, %s", tree[0].Node.ID, tree[1].Node.ID)
	}
	a := tree[1]
	if len(a.Children) != 2 || a.Children[0].Node.ID != "a2" || a.Children[1].Node.ID != "a1" {
		t.Fatalf("children of a out of order: %+v", a.Children)
	}
	if len(a.Children[0].Children) != 1 || a.Children[0].Children[0].Node.ID != "a2x" {
		t.Fatalf("missing nested child a2x")
	}
}

func TestBuildTreeCarriesGrantsAndInheritance(t *testing.T) {
	st := seedTreeDrive(t)
	st.PutGrant(access.Grant{NodeID: "a", UserID: "bob", CanView: true})
	st.PutGrant(access.Grant{NodeID: "a2", UserID: "bob", CanView: true, CanEdit: true})
	r := newResolver(t, st)

	tree, err := r.BuildTree(context.Background(), "d1", "bob")
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	byID := map[string]*access.TreeNode{}
	var walk func(nodes []*access.TreeNode)
	walk = func(nodes []*access.TreeNode) {
		for _, n := range nodes {
			byID[n.Node.ID] = n
			walk(n.Children)
		}
	}
	walk(tree)

	if byID["a"].Grant == nil || byID["a1"].Grant != nil {
		t.Fatalf("Grant must only be set where an explicit row exists")
	}
	if eff := byID["a1"].Effective; !eff.CanView || eff.CanEdit {
		t.Fatalf("a1 must inherit view-only from a, got %+v", eff)
	}
	if eff := byID["a2x"].Effective; !eff.CanEdit {
		t.Fatalf("a2x must inherit the closer grant on a2, got %+v", eff)
	}
	if eff := byID["b"].Effective; eff.CanView || eff.Reason != access.ReasonNone {
		t.Fatalf("b has no grant anywhere, got %+v", eff)
	}
}

// TestBuildTreeMatchesResolve pins the batched path to the per-node path: for
// every node and several user profiles, the tree entry and Resolve must agree.
func TestBuildTreeMatchesResolve(t *testing.T) {
	st := seedTreeDrive(t)
	st.PutGrant(access.Grant{NodeID: "a", UserID: "bob", CanView: true})
	st.PutGrant(access.Grant{NodeID: "a2", UserID: "bob", CanView: true, CanEdit: true, CanShare: true})
	st.PutMembership(access.Membership{DriveID: "d1", UserID: "carol", Role: access.RoleAdmin})
	r := newResolver(t, st)

	for _, user := range []string{"owner", "carol", "bob", "stranger"} {
		tree, err := r.BuildTree(context.Background(), "d1", user)
		if err != nil {
			t.Fatalf("BuildTree(%s): %v", user, err)
		}
		var walk func(nodes []*access.TreeNode)
		walk = func(nodes []*access.TreeNode) {
			for _, n := range nodes {
				eff, err := r.Resolve(context.Background(), user, n.Node.ID)
				if err != nil {
					t.Fatalf("Resolve(%s, %s): %v", user, n.Node.ID, err)
				}
				if eff != n.Effective {
					t.Fatalf("tree and resolve disagree for user %s node %s: %+v vs %+v",
						user, n.Node.ID, n.Effective, eff)
				}
				walk(n.Children)
			}
		}
		walk(tree)
	}
}

func TestBuildTreeExcludesTrashed(t *testing.T) {
	st := seedTreeDrive(t)
	st.PutNode(access.ResourceNode{ID: "tr", DriveID: "d1", Position: 9, IsTrashed: true})
	r := newResolver(t, st)

	tree, err := r.BuildTree(context.Background(), "d1", "owner")
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	for _, root := range tree {
		if root.Node.ID == "tr" {
			t.Fatalf("trashed node leaked into the tree")
		}
	}
}

func TestBuildTreeUnknownDrive(t *testing.T) {
	r := newResolver(t, seedTreeDrive(t))
	if _, err := r.BuildTree(context.Background(), "nope", "owner"); !errors.Is(err, access.ErrDriveNotFound) {
		t.Fatalf("expected ErrDriveNotFound, got %v", err)
	}
}

func TestDriveAccessReasons(t *testing.T) {
	st := seedTreeDrive(t)
	st.PutMembership(access.Membership{DriveID: "d1", UserID: "carol", Role: access.RoleAdmin})
	r := newResolver(t, st)

	eff, err := r.DriveAccess(context.Background(), "d1", "owner")
	if err != nil || eff.Reason != access.ReasonOwner {
		t.Fatalf("owner drive access: %+v, %v", eff, err)
	}
	eff, err = r.DriveAccess(context.Background(), "d1", "carol")
	if err != nil || eff.Reason != access.ReasonDriveAdmin {
		t.Fatalf("admin drive access: %+v, %v", eff, err)
	}
	eff, err = r.DriveAccess(context.Background(), "d1", "bob")
	if err != nil || eff.CanView {
		t.Fatalf("plain user drive access: %+v, %v", eff, err)
	}
}
