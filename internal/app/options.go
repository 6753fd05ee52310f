package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/t6/parfetch/internal/mirror"
)

// Target is the validated form of dp_TARGET.
type Target string

const (
	TargetDoFetch  Target = "do-fetch"
	TargetChecksum Target = "checksum"
	TargetMakesum  Target = "makesum"
)

// DistfileSpec is one parsed -d/-p flag, "name[:group1,group2,...]",
// with the trailing :<groups> suffix already stripped from Name.
type DistfileSpec struct {
	Name   string
	Groups []string
}

// Options is the single immutable-after-init record every component
// that needs configuration receives explicitly, never through an
// ambient singleton.
type Options struct {
	Target       Target
	DistDir      string
	DistinfoFile string
	DistSubdir   string

	Makesum              bool
	MakesumEphemeral     bool
	MakesumKeepTimestamp bool
	DisableSize          bool
	NoChecksum           bool
	RandomizeSites       bool

	MaxHostConnections  int64
	MaxTotalConnections int64

	MasterSiteOverride []string
	MasterSiteBackup   []string
	FetchEnv           []string

	Distfiles  []DistfileSpec
	Patchfiles []DistfileSpec

	// siteEnv snapshots every dp__MASTER_SITES_<group>/dp__PATCH_SITES_<group>
	// variable referenced by Distfiles/Patchfiles at load time, so the
	// rest of the program never reaches back into the environment.
	siteEnv map[string]string
}

// ParseSpec splits one -d/-p argument into its bare name and group
// list.
func ParseSpec(spec string) DistfileSpec {
	name, groupsPart, hasGroups := strings.Cut(spec, ":")
	if !hasGroups || groupsPart == "" {
		return DistfileSpec{Name: name}
	}
	return DistfileSpec{Name: name, Groups: strings.Split(groupsPart, ",")}
}

// LoadOptions parses the CLI flags and the dp_-prefixed environment
// namespace into a single Options record. getenv is injected so tests
// never touch the real process environment.
func LoadOptions(getenv func(string) string, args []string) (*Options, error) {
	fs := pflag.NewFlagSet("parfetch", pflag.ContinueOnError)
	fs.Usage = func() {}
	distSpecs := fs.StringArrayP("d", "d", nil, "distfile spec name[:group1,group2,...]")
	patchSpecs := fs.StringArrayP("p", "p", nil, "patchfile spec name[:group1,group2,...]")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	target := Target(getenv("dp_TARGET"))
	switch target {
	case TargetDoFetch, TargetChecksum, TargetMakesum:
	default:
		return nil, fmt.Errorf("%w: dp_TARGET: unrecognized target %q", ErrConfiguration, target)
	}

	distDir := getenv("dp_DISTDIR")
	if distDir == "" {
		return nil, fmt.Errorf("%w: dp_DISTDIR is required", ErrConfiguration)
	}
	distinfoFile := getenv("dp_DISTINFO_FILE")
	if distinfoFile == "" {
		return nil, fmt.Errorf("%w: dp_DISTINFO_FILE is required", ErrConfiguration)
	}

	maxHost, err := envPositiveInt64(getenv, "dp_PARFETCH_MAX_HOST_CONNECTIONS", 1)
	if err != nil {
		return nil, err
	}
	maxTotal, err := envPositiveInt64(getenv, "dp_PARFETCH_MAX_TOTAL_CONNECTIONS", 4)
	if err != nil {
		return nil, err
	}

	opts := &Options{
		Target:       target,
		DistDir:      distDir,
		DistinfoFile: distinfoFile,
		DistSubdir:   getenv("dp_DIST_SUBDIR"),

		Makesum:              envBool(getenv, "dp__PARFETCH_MAKESUM"),
		MakesumEphemeral:     envBool(getenv, "dp_PARFETCH_MAKESUM_EPHEMERAL"),
		MakesumKeepTimestamp: envBool(getenv, "dp_PARFETCH_MAKESUM_KEEP_TIMESTAMP"),
		DisableSize:          envBool(getenv, "dp_DISABLE_SIZE"),
		NoChecksum:           envBool(getenv, "dp_NO_CHECKSUM"),
		RandomizeSites:       envBool(getenv, "dp_RANDOMIZE_SITES"),

		MaxHostConnections:  maxHost,
		MaxTotalConnections: maxTotal,

		MasterSiteOverride: envFields(getenv, "dp_MASTER_SITE_OVERRIDE"),
		MasterSiteBackup:   envFields(getenv, "dp_MASTER_SITE_BACKUP"),
		FetchEnv:           envFields(getenv, "dp_FETCH_ENV"),
	}

	for _, s := range *distSpecs {
		opts.Distfiles = append(opts.Distfiles, ParseSpec(s))
	}
	for _, s := range *patchSpecs {
		opts.Patchfiles = append(opts.Patchfiles, ParseSpec(s))
	}

	opts.siteEnv = snapshotSiteEnv(getenv, opts.Distfiles, true)
	for k, v := range snapshotSiteEnv(getenv, opts.Patchfiles, false) {
		opts.siteEnv[k] = v
	}

	return opts, nil
}

// snapshotSiteEnv captures the _MASTER_SITES_<group>/_PATCH_SITES_<group>
// variable for every group named by specs, so site resolution never
// consults the environment again after LoadOptions returns.
func snapshotSiteEnv(getenv func(string) string, specs []DistfileSpec, master bool) map[string]string {
	out := make(map[string]string)
	for _, spec := range specs {
		groups := spec.Groups
		if len(groups) == 0 {
			groups = []string{mirror.DefaultGroup}
		}
		for _, g := range groups {
			name := siteEnvName(master, g)
			if _, ok := out[name]; ok {
				continue
			}
			if v := getenv(name); v != "" {
				out[name] = v
			}
		}
	}
	return out
}

func envBool(getenv func(string) string, name string) bool {
	return getenv(name) != ""
}

func envFields(getenv func(string) string, name string) []string {
	v := getenv(name)
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}

func envPositiveInt64(getenv func(string) string, name string, def int64) (int64, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be an integer >= 1, got %q", ErrConfiguration, name, v)
	}
	return n, nil
}

// siteEnvName builds the per-group site-list variable name, e.g.
// dp__MASTER_SITES_DEFAULT or dp__PATCH_SITES_DEFAULT.
func siteEnvName(master bool, group string) string {
	if master {
		return "dp__MASTER_SITES_" + group
	}
	return "dp__PATCH_SITES_" + group
}
