package fetch

import "errors"

// ErrUnsupportedProtocol is returned, and treated as fatal, when a
// mirror URL names a protocol other than http, https, ftp, or ftps.
var ErrUnsupportedProtocol = errors.New("unsupported protocol")

// ErrLocalIO wraps failures to create a distfile's parent directory or
// open its sink — always fatal.
var ErrLocalIO = errors.New("local I/O error")

// Options carries the subset of the run-mode environment that the
// fetch orchestrator and mirror state machine consult.
type Options struct {
	Makesum              bool
	MakesumEphemeral     bool
	MakesumKeepTimestamp bool
	DisableSize          bool
	NoChecksum           bool
	MaxHostConnections   int64
	MaxTotalConnections  int64
	FetchEnv             []string
}
