package lib

import "errors"

// Precondition failures. Surfaced once, never retried; scheduling is skipped
// until the precondition clears on a later evaluation.
var (
	ErrNoSession       = errors.New("no authenticated session")
	ErrNoPlatformToken = errors.New("no platform token reported by client")
)
