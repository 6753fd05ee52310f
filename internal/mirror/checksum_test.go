package mirror_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/t6/parfetch/internal/distinfo"
	"github.com/t6/parfetch/internal/mirror"
)

func TestCheckChecksumSkippedWhenNoChecksum(t *testing.T) {
	e := &distinfo.Entry{Filename: "foo", Digest: []byte{0x01}}
	ok := mirror.CheckChecksum(e, []byte{0xff}, nil, mirror.ChecksumOptions{NoChecksum: true})
	assert.True(t, ok, "NO_CHECKSUM outside makesum always accepts")
}

func TestCheckChecksumCompareMode(t *testing.T) {
	e := &distinfo.Entry{Filename: "foo", Digest: []byte{0xde, 0xad}}
	assert.True(t, mirror.CheckChecksum(e, []byte{0xde, 0xad}, nil, mirror.ChecksumOptions{}))
	assert.False(t, mirror.CheckChecksum(e, []byte{0xbe, 0xef}, nil, mirror.ChecksumOptions{}))
}

func TestCheckChecksumMakesumStoresAndBumpsTimestamp(t *testing.T) {
	m := distinfo.New()
	m.SetTimestamp(100)
	e := m.AddEntryUnknownSize("foo")

	ok := mirror.CheckChecksum(e, []byte{0xaa}, m, mirror.ChecksumOptions{
		Makesum: true,
		Now:     func() int64 { return 200 },
	})
	assert.True(t, ok)
	assert.Equal(t, []byte{0xaa}, e.Digest)
	assert.Equal(t, int64(200), m.Timestamp(), "a changed digest must bump the timestamp")
}

func TestCheckChecksumMakesumKeepTimestamp(t *testing.T) {
	m := distinfo.New()
	m.SetTimestamp(100)
	e := m.AddEntryUnknownSize("foo")

	mirror.CheckChecksum(e, []byte{0xaa}, m, mirror.ChecksumOptions{
		Makesum:       true,
		KeepTimestamp: true,
		Now:           func() int64 { return 200 },
	})
	assert.Equal(t, int64(100), m.Timestamp(), "MAKESUM_KEEP_TIMESTAMP must suppress the bump")
}

func TestCheckChecksumMakesumNoChangeNoBump(t *testing.T) {
	m := distinfo.New()
	m.SetTimestamp(100)
	e := m.AddEntryUnknownSize("foo")
	e.Digest = []byte{0xaa}

	mirror.CheckChecksum(e, []byte{0xaa}, m, mirror.ChecksumOptions{
		Makesum: true,
		Now:     func() int64 { return 200 },
	})
	assert.Equal(t, int64(100), m.Timestamp(), "an unchanged digest must not bump the timestamp")
}
