// Package verify implements the parallel initial verification pre-scan:
// before any network work begins, already-present files are
// checksummed across a worker pool so distfiles that are already
// correct on disk are skipped entirely.
package verify

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/t6/parfetch/internal/distinfo"
	"github.com/t6/parfetch/internal/mirror"
)

// readChunkSize is the chunk size used when hashing a distfile already
// on disk.
const readChunkSize = 64 * 1024

// Options mirrors the subset of run-mode flags the pre-scan decision
// table depends on.
type Options struct {
	Makesum       bool
	NoChecksum    bool
	DisableSize   bool
	KeepTimestamp bool
	Now           func() int64
}

// Result summarizes one distfile's disposition after the pre-scan.
type Result struct {
	Distfile *mirror.Distfile
	Verified bool // true if confirmed already-fetched and no network work is needed
}

// Verifier runs the pre-scan worker pool.
type Verifier struct {
	Fs       afero.Fs
	Manifest *distinfo.Manifest
	Logger   *slog.Logger
	Opts     Options

	mu sync.Mutex // guards Manifest mutation in makesum mode
}

// workerCount sizes the pool to logical CPUs + 1.
func workerCount() int {
	return runtime.NumCPU() + 1
}

// Run partitions distfiles round-robin across a worker pool, hashes
// each present file, and applies CheckChecksum against the manifest. It
// returns one Result per distfile in the same order distfiles was
// given, and prints the final "<k> of <n> files verified" summary line.
func (v *Verifier) Run(distfiles []*mirror.Distfile) []Result {
	n := workerCount()
	if n > len(distfiles) {
		n = len(distfiles)
	}
	if n < 1 {
		n = 1
	}

	partitions := partition(distfiles, n)
	partitionResults := make([][]Result, len(partitions))
	partitionLines := make([][]string, len(partitions))

	var g errgroup.Group
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			results, lines := v.runWorker(part)
			partitionResults[i] = results
			partitionLines[i] = lines
			return nil
		})
	}
	_ = g.Wait() // runWorker never returns an error; failures are per-file Results

	var all []Result
	verifiedCount := 0
	for i := range partitions {
		for _, line := range partitionLines[i] {
			v.Logger.Info(line)
		}
		for _, r := range partitionResults[i] {
			all = append(all, r)
			if r.Verified {
				verifiedCount++
			}
		}
	}

	v.Logger.Info(summaryLine(verifiedCount, len(all)))
	return all
}

func summaryLine(verified, total int) string {
	switch {
	case total == 0:
		return "0 of 0 files verified"
	case verified == total:
		return fmt.Sprintf("all %d files verified", total)
	case verified == 0:
		return fmt.Sprintf("none of the %d files verified", total)
	default:
		return fmt.Sprintf("%d of %d files verified", verified, total)
	}
}

// partition splits distfiles round-robin across n workers.
func partition(distfiles []*mirror.Distfile, n int) [][]*mirror.Distfile {
	parts := make([][]*mirror.Distfile, n)
	for i, d := range distfiles {
		w := i % n
		parts[w] = append(parts[w], d)
	}
	return parts
}

// runWorker processes one worker's partition sequentially: each
// goroutine performing ordinary blocking reads already overlaps disk
// I/O with its sibling workers via the Go scheduler. Status lines are
// buffered and returned for the caller to flush in partition order.
func (v *Verifier) runWorker(part []*mirror.Distfile) ([]Result, []string) {
	results := make([]Result, 0, len(part))
	var lines []string

	for _, d := range part {
		res, line := v.verifyOne(d)
		results = append(results, res)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return results, lines
}

// verifyOne implements the per-file pre-scan decision table.
func (v *Verifier) verifyOne(d *mirror.Distfile) (Result, string) {
	info, err := v.Fs.Stat(d.Name)
	if err != nil {
		d.Fetched = false
		return Result{Distfile: d}, ""
	}

	entry := d.ManifestEntry

	switch {
	case v.Opts.Makesum:
		if entry != nil {
			v.setSize(entry, info.Size())
		}
		return v.hashAndCheck(d)

	case v.Opts.DisableSize:
		if v.Opts.NoChecksum {
			d.Fetched = true
			return Result{Distfile: d, Verified: true}, ""
		}
		return v.hashAndCheck(d)

	case entry != nil && entry.HasSize() && entry.Size == info.Size():
		if v.Opts.NoChecksum {
			d.Fetched = true
			return Result{Distfile: d, Verified: true}, ""
		}
		return v.hashAndCheck(d)

	case entry != nil && entry.HasSize():
		line := fmt.Sprintf("size mismatch (expected: %d, actual: %d)", entry.Size, info.Size())
		_ = v.Fs.Remove(d.Name)
		d.Fetched = false
		return Result{Distfile: d}, line

	default:
		// No manifest entry to compare a known size against; fall
		// through to hashing so CheckChecksum's own missing-entry
		// handling (driven by the caller that built d) applies.
		return v.hashAndCheck(d)
	}
}

func (v *Verifier) setSize(entry *distinfo.Entry, observed int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if entry.Size != observed {
		entry.Size = observed
		if !v.Opts.KeepTimestamp && v.Manifest != nil && v.Opts.Now != nil {
			v.Manifest.SetTimestamp(v.Opts.Now())
		}
	}
}

// hashAndCheck reads d's file in readChunkSize chunks, computes its
// SHA-256, and applies CheckChecksum.
func (v *Verifier) hashAndCheck(d *mirror.Distfile) (Result, string) {
	f, err := v.Fs.Open(d.Name)
	if err != nil {
		d.Fetched = false
		return Result{Distfile: d}, ""
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, readChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		d.Fetched = false
		return Result{Distfile: d}, ""
	}
	digest := h.Sum(nil)

	if d.ManifestEntry == nil {
		d.Fetched = false
		return Result{Distfile: d}, ""
	}

	var ok bool
	func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		ok = mirror.CheckChecksum(d.ManifestEntry, digest, v.Manifest, mirror.ChecksumOptions{
			NoChecksum:    v.Opts.NoChecksum,
			Makesum:       v.Opts.Makesum,
			KeepTimestamp: v.Opts.KeepTimestamp,
			Now:           v.Opts.Now,
		})
	}()

	if !ok {
		_ = v.Fs.Remove(d.Name)
		d.Fetched = false
		return Result{Distfile: d}, "checksum mismatch: " + d.Name
	}

	d.Fetched = true
	return Result{Distfile: d, Verified: true}, ""
}
