package app

import "errors"

// Error taxonomy for Run. Each of these is fatal: the process exits
// non-zero without attempting any further work. Transport and
// integrity errors are deliberately absent here — they are recoverable
// per-attempt outcomes handled entirely inside the fetch package's
// next-mirror transition, never surfaced as a Go error.
var (
	// ErrConfiguration covers missing/invalid environment, unparseable
	// CLI flags, and an unrecognized dp_TARGET value.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingManifestEntry is returned when a distfile has no
	// manifest entry and neither NO_CHECKSUM nor DISABLE_SIZE is set.
	ErrMissingManifestEntry = errors.New("missing distinfo entry")

	// ErrManifestParse wraps one or more malformed distinfo lines.
	ErrManifestParse = errors.New("distinfo parse error")

	// ErrInterrupted is returned when ctx is cancelled by SIGINT before
	// every distfile finished fetching.
	ErrInterrupted = errors.New("interrupted by user")

	// ErrIncomplete is returned when every distfile's state machine
	// reached a terminal state but at least one ended unfetched.
	ErrIncomplete = errors.New("could not fetch all distfiles")
)
