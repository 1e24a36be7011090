package dispatch

import "errors"

// Error kinds shared by command and feature handlers. Handlers wrap these
// with fmt.Errorf("...: %w", ...) so the dispatcher boundary can pick the
// right user-facing reply without parsing error text.
var (
	// ErrBadArgument marks an unrecognized command or config key.
	ErrBadArgument = errors.New("unrecognized argument")

	// ErrBadCommand marks an operation that is structurally invalid for
	// its target, such as add/remove on a non-list setting.
	ErrBadCommand = errors.New("operation not valid for target")

	// ErrNotFound marks a reference to an item that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a failed permission check. The reply must not
	// leak internal state to a non-admin.
	ErrUnauthorized = errors.New("unauthorized")
)
