// Package app wires together distinfo, mirror, verify, fetch, and
// progress into the end-to-end control flow: options → manifest load →
// parse file arguments → build mirror queues → parallel initial
// verification → issue first attempts → run until drained → teardown →
// on success in makesum mode, serialize manifest.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/t6/parfetch/internal/distinfo"
	"github.com/t6/parfetch/internal/fetch"
	"github.com/t6/parfetch/internal/mirror"
	"github.com/t6/parfetch/internal/progress"
	"github.com/t6/parfetch/internal/verify"
)

// Deps carries everything Run needs that would otherwise be reached
// through ambient globals: the filesystem, environment, clock, and
// output streams, all explicit rather than reached through ambient
// globals.
type Deps struct {
	Fs     afero.Fs
	Logger *slog.Logger
	Stdout io.Writer
	Now    func() int64
	Rand   *rand.Rand

	Progress *progress.Reporter
}

// Run executes the main fetch sequence to completion. It returns
// a wrapped ErrConfiguration/ErrManifestParse/ErrMissingManifestEntry
// for fatal setup failures, ErrInterrupted if ctx is cancelled before
// every distfile finishes, ErrIncomplete if the run completes but at
// least one distfile ended unfetched, or a fetch.ErrUnsupportedProtocol
// / fetch.ErrLocalIO for fatal runtime conditions.
func Run(ctx context.Context, opts *Options, deps Deps) error {
	distFs := afero.NewBasePathFs(deps.Fs, opts.DistDir)
	if err := deps.Fs.MkdirAll(opts.DistDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating DISTDIR: %v", ErrConfiguration, err)
	}

	manifest, err := loadManifest(deps.Fs, opts)
	if err != nil {
		return err
	}
	if manifest.Timestamp() == 0 {
		manifest.SetTimestamp(deps.Now())
	}

	masterResolver := newSiteResolver(opts, true, deps.Rand)
	patchResolver := newSiteResolver(opts, false, deps.Rand)

	distfiles, err := buildDistfiles(opts, manifest, masterResolver, patchResolver)
	if err != nil {
		return err
	}

	if !opts.Makesum && deps.Progress != nil {
		deps.Progress.AddTotal(manifest.TotalKnownSize())
	}

	v := &verify.Verifier{
		Fs:       distFs,
		Manifest: manifest,
		Logger:   deps.Logger,
		Opts: verify.Options{
			Makesum:       opts.Makesum,
			NoChecksum:    opts.NoChecksum,
			DisableSize:   opts.DisableSize,
			KeepTimestamp: opts.MakesumKeepTimestamp,
			Now:           deps.Now,
		},
	}
	v.Run(distfiles)

	orch := fetch.New(fetch.Options{
		Makesum:              opts.Makesum,
		MakesumEphemeral:     opts.MakesumEphemeral,
		MakesumKeepTimestamp: opts.MakesumKeepTimestamp,
		DisableSize:          opts.DisableSize,
		NoChecksum:           opts.NoChecksum,
		MaxHostConnections:   opts.MaxHostConnections,
		MaxTotalConnections:  opts.MaxTotalConnections,
		FetchEnv:             opts.FetchEnv,
	}, manifest, distFs, deps.Progress, deps.Logger, deps.Now, func(tok string) {
		deps.Logger.Warn(fmt.Sprintf("unrecognized FETCH_ENV token %q", tok))
	})

	runErr := runWithProgress(ctx, deps.Progress, func(ctx context.Context) error {
		return orch.Run(ctx, distfiles)
	})

	allFetched := true
	for _, d := range distfiles {
		if !d.Fetched {
			allFetched = false
			break
		}
	}

	if runErr != nil {
		if deps.Progress != nil {
			deps.Progress.HandleInterrupt()
		}
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			fmt.Fprintln(deps.Stdout, "interrupted by user")
			return ErrInterrupted
		}
		return runErr
	}

	if !allFetched {
		return ErrIncomplete
	}

	if opts.Makesum {
		f, err := deps.Fs.OpenFile(opts.DistinfoFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrConfiguration, opts.DistinfoFile, err)
		}
		defer f.Close()
		if err := manifest.Serialize(f); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ErrConfiguration, opts.DistinfoFile, err)
		}
		fmt.Fprintf(deps.Stdout, "wrote %s\n", opts.DistinfoFile)
	}

	return nil
}

// runWithProgress drives the progress reporter's render loop for the
// duration of fn, stopping it as soon as fn returns.
func runWithProgress(ctx context.Context, prog *progress.Reporter, fn func(context.Context) error) error {
	if prog == nil {
		return fn(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	progCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		prog.Run(progCtx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	return g.Wait()
}

// loadManifest creates an empty manifest if makesum and the file is
// missing, permits a missing file entirely (still an empty in-memory
// manifest) if both NO_CHECKSUM and DISABLE_SIZE are set, else fails.
func loadManifest(fs afero.Fs, opts *Options) (*distinfo.Manifest, error) {
	f, err := fs.Open(opts.DistinfoFile)
	if err != nil {
		if opts.Makesum {
			return distinfo.New(), nil
		}
		if opts.NoChecksum && opts.DisableSize {
			return distinfo.New(), nil
		}
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConfiguration, opts.DistinfoFile, err)
	}
	defer f.Close()

	m, err := distinfo.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	return m, nil
}

func newSiteResolver(opts *Options, master bool, rnd *rand.Rand) *mirror.SiteResolver {
	lookup := func(group string) (string, bool) {
		v, ok := opts.siteEnv[siteEnvName(master, group)]
		return v, ok
	}
	return mirror.NewSiteResolver(lookup, opts.MasterSiteOverride, opts.MasterSiteBackup, opts.RandomizeSites, rnd)
}

// buildDistfiles processes both -d and -p arguments: resolve each
// group's site list, expand to full URLs, and resolve (or synthesize,
// or reject) the manifest entry.
func buildDistfiles(opts *Options, manifest *distinfo.Manifest, masterResolver, patchResolver *mirror.SiteResolver) ([]*mirror.Distfile, error) {
	var out []*mirror.Distfile

	build := func(sitesType mirror.SitesType, resolver *mirror.SiteResolver, specs []DistfileSpec) error {
		for _, spec := range specs {
			groups := spec.Groups
			if len(groups) == 0 {
				groups = []string{mirror.DefaultGroup}
			}

			key := manifestKey(opts.DistSubdir, spec.Name)
			entry, ok := manifest.Entry(key)
			if !ok {
				switch {
				case opts.Makesum:
					entry = manifest.AddEntryUnknownSize(key)
				case opts.NoChecksum || opts.DisableSize:
					entry = nil
				default:
					return fmt.Errorf("%w: %s", ErrMissingManifestEntry, key)
				}
			}

			var urls []string
			for _, group := range groups {
				sites, err := resolver.Group(group)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrConfiguration, err)
				}
				for _, site := range sites {
					urls = append(urls, site+spec.Name)
				}
			}

			out = append(out, mirror.New(sitesType, key, groups, entry, urls))
		}
		return nil
	}

	if err := build(mirror.SitesMaster, masterResolver, opts.Distfiles); err != nil {
		return nil, err
	}
	if err := build(mirror.SitesPatch, patchResolver, opts.Patchfiles); err != nil {
		return nil, err
	}
	return out, nil
}

func manifestKey(subdir, name string) string {
	if subdir == "" {
		return name
	}
	return path.Join(subdir, name)
}
