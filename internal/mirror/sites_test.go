package mirror_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t6/parfetch/internal/mirror"
)

func TestSiteResolverOrderingAndCaching(t *testing.T) {
	calls := 0
	lookup := func(group string) (string, bool) {
		calls++
		if group != "DEFAULT" {
			return "", false
		}
		return "http://a/ http://b/", true
	}

	r := mirror.NewSiteResolver(lookup, []string{"http://override/"}, []string{"http://backup/"}, false, nil)

	list, err := r.Group("DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://override/", "http://a/", "http://b/", "http://backup/"}, list)

	_, err = r.Group("DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second Group call for the same group must hit the cache, not Lookup again")
}

func TestSiteResolverRequiresConfiguredGroup(t *testing.T) {
	r := mirror.NewSiteResolver(func(string) (string, bool) { return "", false }, nil, nil, false, nil)
	_, err := r.Group("UNCONFIGURED")
	assert.Error(t, err)
}

func TestSiteResolverRandomizePermutes(t *testing.T) {
	lookup := func(string) (string, bool) {
		return "http://a/ http://b/ http://c/ http://d/ http://e/", true
	}
	r := mirror.NewSiteResolver(lookup, nil, nil, true, rand.New(rand.NewSource(1)))
	list, err := r.Group("DEFAULT")
	require.NoError(t, err)
	assert.Len(t, list, 5)
	assert.ElementsMatch(t, []string{"http://a/", "http://b/", "http://c/", "http://d/", "http://e/"}, list)
}
