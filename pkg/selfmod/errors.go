package selfmod

import "errors"

var (
	// ErrNotFound indicates an unknown proposal id.
	ErrNotFound = errors.New("proposal not found")

	// ErrAlreadyDecided indicates a proposal that is no longer pending.
	ErrAlreadyDecided = errors.New("proposal already decided")

	// ErrWindowOpen indicates another approved modification is still being
	// monitored; only one change may be in flight at a time.
	ErrWindowOpen = errors.New("another modification is under verification")
)
