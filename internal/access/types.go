package access

// ResourceNode is one item in a drive's page tree. The document subsystem owns
// these rows; this package only ever reads them.
type ResourceNode struct {
	ID        string
	ParentID  *string
	DriveID   string
	Position  int
	IsTrashed bool
}

// Drive is the top-level container of a page hierarchy. Exactly one owner, and
// the owner implicitly holds full rights over every node in the drive.
type Drive struct {
	ID      string
	OwnerID string
}

// MembershipRole is a user's drive-wide role, distinct from per-node grants.
type MembershipRole string

const (
	RoleMember MembershipRole = "member"
	RoleAdmin  MembershipRole = "admin"
)

// Membership records a user's role within a drive. Rows are unique per
// (drive, user).
type Membership struct {
	DriveID string
	UserID  string
	Role    MembershipRole
}

// Grant is an explicit permission on one node for one user. At most one grant
// row exists per (node, user) pair.
type Grant struct {
	NodeID   string
	UserID   string
	CanView  bool
	CanEdit  bool
	CanShare bool
}

// Reason explains how an effective permission was derived. Owner and
// drive-admin produce identical booleans but must stay distinguishable in the
// audit trail.
type Reason string

const (
	ReasonOwner      Reason = "owner"
	ReasonDriveAdmin Reason = "drive-admin"
	ReasonGrant      Reason = "grant"
	ReasonNone       Reason = "none"
)

// Effective is the derived permission triple for one (actor, node) pair. It is
// computed per request and never stored; callers must not cache it beyond the
// current request.
type Effective struct {
	CanView  bool
	CanEdit  bool
	CanShare bool
	Reason   Reason
}

func fullAccess(reason Reason) Effective {
	return Effective{CanView: true, CanEdit: true, CanShare: true, Reason: reason}
}

func fromGrant(g Grant) Effective {
	return Effective{CanView: g.CanView, CanEdit: g.CanEdit, CanShare: g.CanShare, Reason: ReasonGrant}
}
