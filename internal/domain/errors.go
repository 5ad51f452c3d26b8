package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownKind  = errors.New("unknown queue item kind: id must start with t3_ or t1_")
	ErrMissingID    = errors.New("queue item id must not be empty")
	ErrInvalidCount = errors.New("queue size must not be negative")
)
