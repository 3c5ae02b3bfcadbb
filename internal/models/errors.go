package models

import "errors"

var (
	// ErrNotFound marks a mutation or lookup against a row that does not
	// exist or is no longer active.
	ErrNotFound = errors.New("not found")

	// ErrInvalidVisibility marks a visibility value outside {friends, public},
	// rejected before any write.
	ErrInvalidVisibility = errors.New("invalid visibility")

	// ErrInvalidStatus marks a participant status outside {coming, there},
	// rejected before any write.
	ErrInvalidStatus = errors.New("invalid participant status")

	// ErrDuplicateActive marks an insert that lost the one-active-broadcast
	// race to a concurrent start. The loser retries as an update.
	ErrDuplicateActive = errors.New("active presence already exists")

	// ErrUpstreamUnavailable marks a collaborator call that failed to
	// complete. Lifecycle writes surface it to the caller; visibility
	// decisions default-deny instead.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
