package guard

import "errors"

// Sentinel errors for the privileged-operation surface. Domain operations
// wrap these with context; the HTTP layer resolves status codes with
// errors.Is.
var (
	// ErrPermissionDenied means the caller lacks the permission the operation
	// requires, or is not an active super admin at all.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the request was understood but a parameter
	// fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable means a backing dependency failed; retrying later may
	// succeed.
	ErrUnavailable = errors.New("unavailable")
)
