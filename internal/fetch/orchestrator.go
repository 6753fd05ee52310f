// Package fetch implements the concurrent multi-transfer scheduler and
// per-file mirror state machine of spec.md §4.1/§4.2/§4.6.
//
// The spec describes a single-threaded reactor multiplexing many
// in-flight transfers via a transfer library's socket/timer callbacks.
// That design exists to let one OS thread service many blocking-capable
// sockets at once; Go's runtime netpoller already does exactly that
// underneath any number of goroutines performing ordinary blocking
// calls. Orchestrator therefore runs one goroutine per distfile, each
// driving that distfile's entire mirror state machine start to finish,
// bounded by the total/per-host connection semaphores in semaphore.go.
// Because a distfile's whole state machine lives in a single goroutine,
// "at most one attempt per distfile in flight" and "the next mirror is
// only issued from the completion handler of the previous attempt" are
// structural, not invariants that need separate enforcement — see
// SPEC_FULL.md §4.1.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/t6/parfetch/internal/distinfo"
	"github.com/t6/parfetch/internal/mirror"
	"github.com/t6/parfetch/internal/progress"
)

// failureReason categorizes why an attempt did not succeed, driving the
// status line spec.md §4.2's next-mirror transition emits.
type failureReason struct {
	kind    string // "transport", "checksum", "size", "status"
	message string
}

// Orchestrator drives spec.md §4.6 steps 9–10: issuing the first
// attempt for every unfetched distfile and running each one's mirror
// state machine to completion or exhaustion.
type Orchestrator struct {
	Opts     Options
	Manifest *distinfo.Manifest
	Fs       afero.Fs
	Progress *progress.Reporter
	Logger   *slog.Logger
	Now      func() int64

	httpClient *http.Client
	tlsConfig  *tls.Config
	limiter    *connLimiter
}

// New constructs an Orchestrator. warnUnknownFetchEnv is called once
// per unrecognized FETCH_ENV token (spec.md §6).
func New(opts Options, manifest *distinfo.Manifest, fs afero.Fs, prog *progress.Reporter, logger *slog.Logger, now func() int64, warnUnknownFetchEnv func(string)) *Orchestrator {
	noVerifyPeer, noVerifyHostname := ParseFetchEnv(opts.FetchEnv, warnUnknownFetchEnv)
	tlsConfig := BuildTLSConfig(noVerifyPeer, noVerifyHostname)

	maxHost := opts.MaxHostConnections
	if maxHost < 1 {
		maxHost = 1
	}
	maxTotal := opts.MaxTotalConnections
	if maxTotal < 1 {
		maxTotal = 4
	}

	return &Orchestrator{
		Opts:       opts,
		Manifest:   manifest,
		Fs:         fs,
		Progress:   prog,
		Logger:     logger,
		Now:        now,
		httpClient: NewHTTPClient(tlsConfig),
		tlsConfig:  tlsConfig,
		limiter:    newConnLimiter(maxTotal, maxHost),
	}
}

// Run issues the first attempt for every distfile not already marked
// fetched and waits for every mirror state machine to finish, per
// spec.md §4.6 steps 9–10. It returns a non-nil error only for fatal
// conditions (unsupported protocol, local I/O failure, context
// cancellation); mirror exhaustion is reflected in each Distfile's
// Fetched flag, not as an error.
func (o *Orchestrator) Run(ctx context.Context, distfiles []*mirror.Distfile) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range distfiles {
		if d.Fetched {
			continue
		}
		d := d
		g.Go(func() error {
			return o.runDistfile(ctx, d)
		})
	}
	return g.Wait()
}

// runDistfile drives one distfile's mirror state machine: idle →
// in_flight(url_i) → {succeeded, failed→in_flight(url_{i+1})} →
// … → exhausted, per spec.md §4.2.
func (o *Orchestrator) runDistfile(ctx context.Context, d *mirror.Distfile) error {
	for d.HasNextURL() {
		attempt := d.IssueNext()
		o.Logger.Info(fmt.Sprintf("queued %s", attempt.URL))

		ok, reason, fatal := o.runAttempt(ctx, attempt)
		if fatal != nil {
			return fatal
		}
		if ok {
			d.Fetched = true
			o.Logger.Info(fmt.Sprintf("done %s", d.Name))
			return nil
		}
		o.nextMirrorTransition(attempt, reason)
	}
	d.Fetched = false
	o.Logger.Warn("No more mirrors left!")
	return nil
}

// runAttempt performs one mirror attempt end to end: connection
// admission, sink setup, transfer, and completion verification.
func (o *Orchestrator) runAttempt(ctx context.Context, a *mirror.Attempt) (ok bool, reason *failureReason, fatal error) {
	u, err := url.Parse(a.URL)
	if err != nil {
		return false, &failureReason{kind: "transport", message: err.Error()}, nil
	}

	protocol := strings.ToLower(u.Scheme)
	switch protocol {
	case "http", "https", "ftp", "ftps":
	default:
		return false, nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, protocol)
	}

	if err := o.limiter.acquire(ctx, u.Host); err != nil {
		return false, nil, err
	}
	defer o.limiter.release(u.Host)

	sink, err := o.openSink(a.Distfile)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrLocalIO, err)
	}
	a.Distfile.Sink = sink

	if o.Progress != nil {
		o.Progress.SetCurrentFile(a.Distfile.Name)
	}

	var sinkWriter io.Writer
	if sink != nil {
		sinkWriter = sink
	}
	w := &trackingWriter{attempt: a, sink: sinkWriter, progress: o.Progress}

	maxSize := int64(-1)
	if !o.Opts.DisableSize && a.Distfile.ManifestEntry != nil && a.Distfile.ManifestEntry.HasSize() {
		maxSize = a.Distfile.ManifestEntry.Size
	}

	var code int
	var transferErr error
	switch protocol {
	case "http", "https":
		code, transferErr = o.fetchHTTP(ctx, a.URL, w, maxSize)
	case "ftp", "ftps":
		code, transferErr = o.fetchFTP(ctx, a.URL, w, maxSize)
	}

	// Close sink exactly once, regardless of outcome (spec.md §4.2
	// "Close sink (once)").
	if sink != nil {
		_ = sink.Close()
		a.Distfile.Sink = nil
	}

	// A transfer aborted by ctx cancellation (SIGINT, spec.md §7) is
	// fatal, not a recoverable mirror failure: it must surface as
	// "interrupted by user", not as one more exhausted mirror.
	if ctx.Err() != nil {
		return false, nil, ctx.Err()
	}

	accept := acceptableCode(protocol, code)
	switch {
	case accept && transferErr == nil:
		return o.verifyCompletion(a)
	case accept && transferErr != nil:
		return false, &failureReason{kind: "transport", message: transferErr.Error()}, nil
	case code > 0 && !accept:
		return false, &failureReason{kind: "status", message: fmt.Sprintf("status %d", code)}, nil
	default:
		msg := "unknown error"
		if transferErr != nil {
			msg = transferErr.Error()
		}
		return false, &failureReason{kind: "transport", message: msg}, nil
	}
}

// verifyCompletion implements spec.md §4.2's completion handling once
// the response code and library result are both acceptable: the
// DISABLE_SIZE/size-adoption branch, then size verification, then
// CheckChecksum.
func (o *Orchestrator) verifyCompletion(a *mirror.Attempt) (ok bool, reason *failureReason, fatal error) {
	entry := a.Distfile.ManifestEntry

	switch {
	case entry != nil && o.Opts.Makesum && !entry.HasSize():
		// A distfile makesum encountered for the first time carries no
		// expected size at all (spec.md §4.5); the fetch itself is the
		// only place that ever discovers one.
		o.adoptSize(entry, a.BytesWritten)

	case o.Opts.DisableSize:
		if o.Opts.Makesum && entry != nil && entry.Size != a.BytesWritten {
			o.adoptSize(entry, a.BytesWritten)
		}

	case entry != nil && entry.HasSize():
		if entry.Size != a.BytesWritten {
			return false, &failureReason{
				kind:    "size",
				message: fmt.Sprintf("size mismatch (expected: %d, actual: %d)", entry.Size, a.BytesWritten),
			}, nil
		}
	}

	if entry == nil {
		return true, nil, nil
	}

	digest := a.Hasher.Sum(nil)
	if !mirror.CheckChecksum(entry, digest, o.Manifest, mirror.ChecksumOptions{
		NoChecksum:    o.Opts.NoChecksum,
		Makesum:       o.Opts.Makesum,
		KeepTimestamp: o.Opts.MakesumKeepTimestamp,
		Now:           o.Now,
	}) {
		return false, &failureReason{kind: "checksum", message: "checksum mismatch"}, nil
	}
	return true, nil, nil
}

// adoptSize stores an observed size into entry, bumping the manifest
// timestamp unless MAKESUM_KEEP_TIMESTAMP is set (spec.md §4.2).
func (o *Orchestrator) adoptSize(entry *distinfo.Entry, observed int64) {
	entry.Size = observed
	if !o.Opts.MakesumKeepTimestamp {
		o.Manifest.SetTimestamp(o.Now())
	}
}

// nextMirrorTransition implements spec.md §4.2's next-mirror
// transition: unlink the partial file, reverse the progress delta, and
// emit the categorized status line.
func (o *Orchestrator) nextMirrorTransition(a *mirror.Attempt, reason *failureReason) {
	o.Logger.Warn(fmt.Sprintf("error %s", a.URL))

	switch reason.kind {
	case "checksum":
		o.Logger.Warn("checksum mismatch")
	default:
		o.Logger.Warn(reason.message)
	}

	if o.Progress != nil {
		o.Progress.Add(-a.BytesWritten)
	}

	if !o.Opts.MakesumEphemeral {
		_ = o.Fs.Remove(a.Filename)
		o.Logger.Warn(fmt.Sprintf("unlink %s", a.Filename))
	}
}

// openSink opens d's sink for writing, creating parent directories as
// needed, per spec.md §4.2 step 3. In ephemeral makesum mode it returns
// a nil sink: bytes are fed only to the hasher.
func (o *Orchestrator) openSink(d *mirror.Distfile) (afero.File, error) {
	if o.Opts.MakesumEphemeral {
		return nil, nil
	}
	if dir := filepath.Dir(d.Name); dir != "." {
		if err := o.Fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return o.Fs.Create(d.Name)
}
