package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loomspace.org/internal/obs"
)

// MaxTreeDepth bounds ancestor walks. The document subsystem guarantees
// acyclicity on write; the bound turns a violated invariant into a loud
// resolution failure instead of an unbounded loop.
const MaxTreeDepth = 64

// Resolver computes effective access for (actor, node) pairs from ownership,
// drive membership and explicit grants with closest-ancestor-wins inheritance.
// It holds no state between calls and never caches results.
type Resolver struct {
	store HierarchyStore
}

func NewResolver(store HierarchyStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: hierarchy store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve computes the effective permission triple for actorID on nodeID.
//
// Ownership is absolute: the drive owner gets full access and grant rows are
// irrelevant. Drive admins get the same booleans under a distinct reason code
// so audit trails can tell the two apart. Everyone else inherits the closest
// explicit grant on the ancestor chain, the node itself included; no grant
// anywhere resolves to all-false.
func (r *Resolver) Resolve(ctx context.Context, actorID, nodeID string) (Effective, error) {
	start := time.Now()
	eff, err := r.resolve(ctx, actorID, nodeID)
	if err == nil {
		obs.ObserveResolve(string(eff.Reason), time.Since(start))
	}
	return eff, err
}

func (r *Resolver) resolve(ctx context.Context, actorID, nodeID string) (Effective, error) {
	nc, err := r.store.NodeContext(ctx, nodeID, actorID)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return Effective{Reason: ReasonNone}, ErrNodeNotFound
		}
		return Effective{}, fmt.Errorf("%w: load node %s: %v", ErrResolutionFailed, nodeID, err)
	}
	if nc.Node.IsTrashed {
		return Effective{Reason: ReasonNone}, ErrNodeNotFound
	}

	if nc.Drive.OwnerID == actorID {
		return fullAccess(ReasonOwner), nil
	}
	if nc.Membership != nil && nc.Membership.Role == RoleAdmin {
		return fullAccess(ReasonDriveAdmin), nil
	}

	chain, err := r.store.AncestorChain(ctx, nodeID, MaxTreeDepth+1)
	if err != nil {
		return Effective{}, fmt.Errorf("%w: ancestor chain of node %s: %v", ErrResolutionFailed, nodeID, err)
	}
	if len(chain) > MaxTreeDepth {
		return Effective{}, fmt.Errorf("%w: ancestor chain of node %s exceeds depth %d", ErrResolutionFailed, nodeID, MaxTreeDepth)
	}

	ids := make([]string, 0, len(chain))
	for _, n := range chain {
		ids = append(ids, n.ID)
	}
	grants, err := r.store.GrantsForUserOnNodes(ctx, actorID, ids)
	if err != nil {
		return Effective{}, fmt.Errorf("%w: grants for user %s: %v", ErrResolutionFailed, actorID, err)
	}

	// Closest ancestor wins: the chain is ordered node first, so the first
	// explicit grant encountered is the effective one.
	for _, n := range chain {
		if g, ok := grants[n.ID]; ok {
			return fromGrant(g), nil
		}
	}
	return Effective{Reason: ReasonNone}, nil
}

// Require resolves and then gates on the given check, returning ErrForbidden
// when the effective permission does not satisfy it. Convenience for callers
// that branch only on "may this actor do this".
func (r *Resolver) Require(ctx context.Context, actorID, nodeID string, allowed func(Effective) bool) (Effective, error) {
	eff, err := r.Resolve(ctx, actorID, nodeID)
	if err != nil {
		return eff, err
	}
	if !allowed(eff) {
		return eff, ErrForbidden
	}
	return eff, nil
}

// CanView and friends are the predicates callers pass to Require.
func CanView(e Effective) bool  { return e.CanView }
func CanEdit(e Effective) bool  { return e.CanEdit }
func CanShare(e Effective) bool { return e.CanShare }
