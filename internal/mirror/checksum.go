package mirror

import (
	"bytes"

	"github.com/t6/parfetch/internal/distinfo"
)

// ChecksumOptions carries the run-mode flags and manifest access that
// CheckChecksum's decision table depends on.
type ChecksumOptions struct {
	NoChecksum    bool
	Makesum       bool
	KeepTimestamp bool
	// Now supplies the current time for timestamp bumps; tests inject a
	// fixed clock.
	Now func() int64
}

// CheckChecksum decides whether a completed transfer's digest is
// acceptable:
//
//   - NO_CHECKSUM set and not makesum: skip, return true.
//   - makesum: if the stored digest is absent or differs from computed,
//     store the new digest and bump the manifest timestamp (unless
//     MAKESUM_KEEP_TIMESTAMP); always return true.
//   - otherwise: return whether the stored and computed digests match.
func CheckChecksum(entry *distinfo.Entry, computed []byte, manifest *distinfo.Manifest, opts ChecksumOptions) bool {
	if opts.NoChecksum && !opts.Makesum {
		return true
	}

	if opts.Makesum {
		if !entry.HasDigest() || !bytes.Equal(entry.Digest, computed) {
			entry.Digest = append([]byte(nil), computed...)
			if !opts.KeepTimestamp && manifest != nil && opts.Now != nil {
				manifest.SetTimestamp(opts.Now())
			}
		}
		return true
	}

	return bytes.Equal(entry.Digest, computed)
}
