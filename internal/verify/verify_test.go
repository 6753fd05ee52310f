package verify_test

import (
	"bytes"
	"crypto/sha256"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t6/parfetch/internal/distinfo"
	"github.com/t6/parfetch/internal/mirror"
	"github.com/t6/parfetch/internal/verify"
)

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

// S4 – initial verify hit: file already on disk with correct size and
// digest needs no network activity.
func TestScenario4AlreadyVerifiedNeedsNoNetwork(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "foo", []byte("hello world"), 0o644))

	m := distinfo.New()
	entry := m.AddEntry("foo", 11)
	entry.Digest = digest("hello world")
	d := mirror.New(mirror.SitesMaster, "foo", nil, entry, nil)

	var buf bytes.Buffer
	v := &verify.Verifier{Fs: fs, Manifest: m, Logger: newLogger(&buf)}
	results := v.Run([]*mirror.Distfile{d})

	require.Len(t, results, 1)
	assert.True(t, results[0].Verified)
	assert.True(t, d.Fetched)
	assert.Contains(t, buf.String(), "all 1 files verified")
}

func TestVerifyMissingFileNeedsFetch(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := distinfo.New()
	entry := m.AddEntry("foo", 11)
	d := mirror.New(mirror.SitesMaster, "foo", nil, entry, nil)

	var buf bytes.Buffer
	v := &verify.Verifier{Fs: fs, Manifest: m, Logger: newLogger(&buf)}
	results := v.Run([]*mirror.Distfile{d})

	require.Len(t, results, 1)
	assert.False(t, results[0].Verified)
	assert.False(t, d.Fetched)
}

func TestVerifySizeMismatchUnlinksAndRequestsFetch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "foo", []byte("short"), 0o644))

	m := distinfo.New()
	entry := m.AddEntry("foo", 11)
	entry.Digest = digest("hello world")
	d := mirror.New(mirror.SitesMaster, "foo", nil, entry, nil)

	var buf bytes.Buffer
	v := &verify.Verifier{Fs: fs, Manifest: m, Logger: newLogger(&buf)}
	results := v.Run([]*mirror.Distfile{d})

	require.Len(t, results, 1)
	assert.False(t, results[0].Verified)
	assert.False(t, d.Fetched)
	_, err := fs.Stat("foo")
	assert.Error(t, err, "a size-mismatched file must be unlinked")
	assert.Contains(t, buf.String(), "size mismatch (expected: 11, actual: 5)")
}

func TestVerifyMakesumAdoptsObservedSizeAndDigest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "foo", []byte("abcd"), 0o644))

	m := distinfo.New()
	m.SetTimestamp(1)
	entry := m.AddEntryUnknownSize("foo")
	d := mirror.New(mirror.SitesMaster, "foo", nil, entry, nil)

	var buf bytes.Buffer
	v := &verify.Verifier{
		Fs:       fs,
		Manifest: m,
		Logger:   newLogger(&buf),
		Opts:     verify.Options{Makesum: true, Now: func() int64 { return 42 }},
	}
	results := v.Run([]*mirror.Distfile{d})

	require.Len(t, results, 1)
	assert.True(t, d.Fetched)
	assert.Equal(t, int64(4), entry.Size)
	assert.Equal(t, digest("abcd"), entry.Digest)
	assert.Equal(t, int64(42), m.Timestamp())
}

func TestVerifyPartitionsAcrossAllDistfiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := distinfo.New()
	var distfiles []*mirror.Distfile
	for i := 0; i < 7; i++ {
		name := string(rune('a' + i))
		require.NoError(t, afero.WriteFile(fs, name, []byte("data"), 0o644))
		entry := m.AddEntry(name, 4)
		entry.Digest = digest("data")
		distfiles = append(distfiles, mirror.New(mirror.SitesMaster, name, nil, entry, nil))
	}

	var buf bytes.Buffer
	v := &verify.Verifier{Fs: fs, Manifest: m, Logger: newLogger(&buf)}
	results := v.Run(distfiles)

	assert.Len(t, results, 7)
	for _, r := range results {
		assert.True(t, r.Verified)
	}
	assert.Contains(t, buf.String(), "all 7 files verified")
}
