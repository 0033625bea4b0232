package access

import "errors"

var (
	// ErrNodeNotFound is returned when the target node does not exist or is
	// trashed. Trashed nodes resolve to no access for everyone; restore and
	// purge run through a separate trusted flow.
	ErrNodeNotFound = errors.New("access: node not found")

	// ErrDriveNotFound is returned by bulk tree resolution when the drive
	// does not exist.
	ErrDriveNotFound = errors.New("access: drive not found")

	// ErrForbidden is the canonical denial for callers that gate an operation
	// on an Effective triple.
	ErrForbidden = errors.New("access: forbidden")

	// ErrResolutionFailed wraps infrastructure failures while reading
	// hierarchy, membership or grant data. It is distinct from a legitimate
	// deny: a resolver must never silently default to allow or deny when the
	// backing store is unavailable.
	ErrResolutionFailed = errors.New("access: resolution failed")
)
