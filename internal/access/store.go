package access

import "context"

// NodeContext is everything needed to decide ownership and drive-admin status
// for one (actor, node) pair. Implementations must load it in a single batched
// fetch so the ownership decision never spans a torn read across queries.
type NodeContext struct {
	Node  ResourceNode
	Drive Drive
	// Membership is the actor's membership on the owning drive, nil when the
	// actor is not a member.
	Membership *Membership
}

// HierarchyStore is the read-only view of the resource hierarchy owned by the
// document subsystem. The resolver never writes through it.
type HierarchyStore interface {
	// NodeContext loads the node, its owning drive and the actor's membership
	// in one pass. Returns ErrNodeNotFound when the node does not exist.
	NodeContext(ctx context.Context, nodeID, actorID string) (*NodeContext, error)

	// AncestorChain returns the node and its ancestors, node first, root last,
	// following ParentID. Implementations stop after maxDepth entries; the
	// resolver treats a chain that hits the bound as a data-integrity error.
	AncestorChain(ctx context.Context, nodeID string, maxDepth int) ([]ResourceNode, error)

	// GrantsForUserOnNodes returns the user's explicit grants on the given
	// nodes, keyed by node id.
	GrantsForUserOnNodes(ctx context.Context, userID string, nodeIDs []string) (map[string]Grant, error)

	// DriveAccess loads a drive and the user's membership on it in one pass.
	DriveAccess(ctx context.Context, driveID, userID string) (*Drive, *Membership, error)

	// NodesByDrive returns all non-trashed nodes of a drive.
	NodesByDrive(ctx context.Context, driveID string) ([]ResourceNode, error)

	// GrantsForUserInDrive returns all of the user's explicit grants on nodes
	// of the drive.
	GrantsForUserInDrive(ctx context.Context, userID, driveID string) ([]Grant, error)
}
