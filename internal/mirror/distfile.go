// Package mirror models the per-distfile mirror state machine: the
// ordered queue of candidate URLs, the attempt currently in flight, and
// the bookkeeping (sink, fetched flag, manifest back-reference) that the
// fetch orchestrator drives.
package mirror

import (
	"crypto/sha256"
	"hash"

	"github.com/spf13/afero"

	"github.com/t6/parfetch/internal/distinfo"
)

// SitesType distinguishes a distfile's master-site group from its
// patch-site group, since the two draw from distinct environment
// namespaces (_MASTER_SITES_<group> vs _PATCH_SITES_<group>).
type SitesType int

const (
	SitesMaster SitesType = iota
	SitesPatch
)

// DefaultGroup is used when a -d/-p spec carries no explicit group
// suffix.
const DefaultGroup = "DEFAULT"

// Attempt is one (distfile, url, hasher) triple: a single issued
// transfer. The hasher always starts fresh; CheckChecksum never sees a
// hasher that carries bytes from a prior, abandoned attempt.
type Attempt struct {
	Distfile      *Distfile
	Filename      string
	URL           string
	Hasher        hash.Hash
	BytesWritten  int64
	LastSeenTotal int64 // last total reported via the progress callback, for delta correction
}

// Distfile is the per-argument in-memory object tracking one -d/-p file's
// mirror state. It owns its URL queue and its sink; ManifestEntry is a
// back-reference whose lifetime is always longer than the Distfile's.
type Distfile struct {
	SitesType     SitesType
	Name          string
	Groups        []string
	ManifestEntry *distinfo.Entry

	urlQueue []string
	Current  *Attempt
	Sink     afero.File
	Fetched  bool
}

// New constructs a Distfile with the given candidate URL queue. urls is
// owned by the returned Distfile and consumed front-to-back by IssueNext.
func New(sitesType SitesType, name string, groups []string, entry *distinfo.Entry, urls []string) *Distfile {
	if len(groups) == 0 {
		groups = []string{DefaultGroup}
	}
	return &Distfile{
		SitesType:     sitesType,
		Name:          name,
		Groups:        groups,
		ManifestEntry: entry,
		urlQueue:      urls,
	}
}

// HasNextURL reports whether another mirror remains to be tried.
func (d *Distfile) HasNextURL() bool {
	return len(d.urlQueue) > 0
}

// IssueNext pops the next URL from the queue and returns a fresh Attempt
// for it with a newly reset SHA-256 hasher, becoming d.Current. It
// returns nil if the queue is empty (all mirrors exhausted).
func (d *Distfile) IssueNext() *Attempt {
	if len(d.urlQueue) == 0 {
		d.Current = nil
		return nil
	}
	url := d.urlQueue[0]
	d.urlQueue = d.urlQueue[1:]
	a := &Attempt{
		Distfile: d,
		Filename: d.Name,
		URL:      url,
		Hasher:   sha256.New(),
	}
	d.Current = a
	return a
}

// RemainingURLs reports how many mirrors remain in the queue, for
// diagnostics only.
func (d *Distfile) RemainingURLs() int {
	return len(d.urlQueue)
}
