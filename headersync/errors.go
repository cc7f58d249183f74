package headersync

import "github.com/pkg/errors"

var (
	// ErrOperationFailed indicates unreadable storage or a re-entrant
	// initialization of a non-empty header queue. Fatal to the session.
	ErrOperationFailed = errors.New("operation failed")

	// ErrNotFound indicates a header expected in storage at a computed
	// boundary height is missing. Fatal to the session.
	ErrNotFound = errors.New("not found")
)
