package mirror

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// SiteLookup returns the raw, space-separated site list for a single
// group (the value of _MASTER_SITES_<group> or _PATCH_SITES_<group>),
// and whether that environment variable was set at all.
type SiteLookup func(group string) (raw string, ok bool)

// SiteResolver builds, and caches, the ordered mirror list for each
// group the first time it is referenced. Construction order is
//
//	[MASTER_SITE_OVERRIDE?] + getenv(group sites, required) + [MASTER_SITE_BACKUP?]
//
// optionally shuffled when Randomize is set.
type SiteResolver struct {
	Lookup    SiteLookup
	Override  []string
	Backup    []string
	Randomize bool
	Rand      *rand.Rand // must be non-nil when Randomize is true

	mu    sync.Mutex
	cache map[string][]string
}

// NewSiteResolver constructs a resolver. rnd may be nil when randomize
// is false.
func NewSiteResolver(lookup SiteLookup, override, backup []string, randomize bool, rnd *rand.Rand) *SiteResolver {
	return &SiteResolver{
		Lookup:    lookup,
		Override:  override,
		Backup:    backup,
		Randomize: randomize,
		Rand:      rnd,
		cache:     make(map[string][]string),
	}
}

// Group returns the ordered site-base-URL list for group, building and
// caching it on first reference. The env var naming (_MASTER_SITES_ vs
// _PATCH_SITES_) is resolved entirely inside Lookup; Group itself is
// agnostic to SitesType.
func (r *SiteResolver) Group(group string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[group]; ok {
		return cached, nil
	}

	raw, ok := r.Lookup(group)
	if !ok {
		return nil, fmt.Errorf("no site list configured for group %q", group)
	}
	sites := strings.Fields(raw) // whitespace split
	if len(sites) == 0 {
		return nil, fmt.Errorf("empty site list for group %q", group)
	}

	list := make([]string, 0, len(r.Override)+len(sites)+len(r.Backup))
	list = append(list, r.Override...)
	list = append(list, sites...)
	list = append(list, r.Backup...)

	if r.Randomize {
		shuffleSymmetric(list, r.Rand)
	}

	r.cache[group] = list
	return list, nil
}

// keyedSite pairs a site with a random sort key so the shuffle can be
// expressed as a stable sort by a symmetric 3-valued comparator.
type keyedSite struct {
	site string
	key  int64
}

func compareKeys(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func shuffleSymmetric(list []string, rnd *rand.Rand) {
	keyed := make([]keyedSite, len(list))
	for i, s := range list {
		keyed[i] = keyedSite{site: s, key: rnd.Int63()}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		return compareKeys(keyed[i].key, keyed[j].key) < 0
	})
	for i, k := range keyed {
		list[i] = k.site
	}
}
