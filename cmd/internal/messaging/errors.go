package messaging

import "errors"

// Error taxonomy of the messaging core. All are returned synchronously to the
// caller; none are retried here. HTTP mapping lives in the handler.
var (
	// ErrInvalidArgument reports malformed, empty, or oversized input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict reports that an active conversation already exists
	// between the pair. Callers should fetch the existing one instead.
	ErrConflict = errors.New("active conversation already exists")

	// ErrForbidden reports that the actor is not a participant, is not the
	// recipient for accept/reject, or is sending into a conversation that
	// is not accepted.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound reports an unknown conversation id (or unknown pair for
	// FindActiveBetween).
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidTransition reports an accept/reject on a request that is
	// no longer pending.
	ErrInvalidTransition = errors.New("request already resolved")
)

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }
