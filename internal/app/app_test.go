package app_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t6/parfetch/internal/app"
)

func fixedClock(t int64) func() int64 {
	return func() int64 { return t }
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadOptionsParsesFlagsAndEnvironment(t *testing.T) {
	env := map[string]string{
		"dp_TARGET":                         "do-fetch",
		"dp_DISTDIR":                        "/work",
		"dp_DISTINFO_FILE":                  "/work/distinfo",
		"dp_DIST_SUBDIR":                    "pkg-1.0",
		"dp_PARFETCH_MAX_HOST_CONNECTIONS":  "2",
		"dp_PARFETCH_MAX_TOTAL_CONNECTIONS": "8",
		"dp_FETCH_ENV":                      "SSL_NO_VERIFY_PEER=1 BOGUS=1",
		"dp__MASTER_SITES_DEFAULT":          "http://a/ http://b/",
	}
	opts, err := app.LoadOptions(envFrom(env), []string{"-d", "foo", "-d", "bar:DEFAULT"})
	require.NoError(t, err)

	assert.Equal(t, app.TargetDoFetch, opts.Target)
	assert.Equal(t, "/work", opts.DistDir)
	assert.Equal(t, "pkg-1.0", opts.DistSubdir)
	assert.Equal(t, int64(2), opts.MaxHostConnections)
	assert.Equal(t, int64(8), opts.MaxTotalConnections)
	assert.Equal(t, []string{"SSL_NO_VERIFY_PEER=1", "BOGUS=1"}, opts.FetchEnv)
	require.Len(t, opts.Distfiles, 2)
	assert.Equal(t, "foo", opts.Distfiles[0].Name)
	assert.Nil(t, opts.Distfiles[0].Groups)
	assert.Equal(t, "bar", opts.Distfiles[1].Name)
	assert.Equal(t, []string{"DEFAULT"}, opts.Distfiles[1].Groups)
}

func TestLoadOptionsRejectsUnknownTarget(t *testing.T) {
	env := map[string]string{
		"dp_TARGET":        "explode",
		"dp_DISTDIR":       "/work",
		"dp_DISTINFO_FILE": "/work/distinfo",
	}
	_, err := app.LoadOptions(envFrom(env), nil)
	assert.ErrorIs(t, err, app.ErrConfiguration)
}

func TestLoadOptionsRequiresDistdir(t *testing.T) {
	env := map[string]string{
		"dp_TARGET":        "do-fetch",
		"dp_DISTINFO_FILE": "/work/distinfo",
	}
	_, err := app.LoadOptions(envFrom(env), nil)
	assert.ErrorIs(t, err, app.ErrConfiguration)
}

func TestParseSpecSplitsGroups(t *testing.T) {
	s := app.ParseSpec("foo.tar.gz:DEFAULT,MIRROR2")
	assert.Equal(t, "foo.tar.gz", s.Name)
	assert.Equal(t, []string{"DEFAULT", "MIRROR2"}, s.Groups)

	s2 := app.ParseSpec("bare")
	assert.Equal(t, "bare", s2.Name)
	assert.Nil(t, s2.Groups)
}

// S5 – makesum add entry.
func TestScenario5MakesumAddsEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "abcd")
	}))
	defer srv.Close()

	env := map[string]string{
		"dp_TARGET":                "makesum",
		"dp_DISTDIR":               "/work",
		"dp_DISTINFO_FILE":         "/work/distinfo",
		"dp__PARFETCH_MAKESUM":     "1",
		"dp__MASTER_SITES_DEFAULT": srv.URL + "/",
	}
	opts, err := app.LoadOptions(envFrom(env), []string{"-d", "foo"})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	var logBuf, stdout bytes.Buffer
	deps := app.Deps{
		Fs:     fs,
		Logger: testLogger(&logBuf),
		Stdout: &stdout,
		Now:    fixedClock(1700000000),
	}

	err = app.Run(context.Background(), opts, deps)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/work/distinfo")
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "TIMESTAMP = 1700000000")
	assert.Contains(t, text, "SIZE (foo) = 4")
	assert.Contains(t, text, "SHA256 (foo) = "+sha256Hex("abcd"))
	assert.Contains(t, stdout.String(), "wrote /work/distinfo")
}

func TestRunReturnsIncompleteWhenMirrorsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "WRONG BYTES")
	}))
	defer srv.Close()

	env := map[string]string{
		"dp_TARGET":                "do-fetch",
		"dp_DISTDIR":               "/work",
		"dp_DISTINFO_FILE":         "/work/distinfo",
		"dp__MASTER_SITES_DEFAULT": srv.URL + "/",
	}
	opts, err := app.LoadOptions(envFrom(env), []string{"-d", "foo"})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	distinfoContents := "TIMESTAMP = 1\nSHA256 (foo) = " + sha256Hex("hello world") + "\nSIZE (foo) = 11\n"
	require.NoError(t, afero.WriteFile(fs, "/work/distinfo", []byte(distinfoContents), 0o644))

	var logBuf, stdout bytes.Buffer
	deps := app.Deps{
		Fs:     fs,
		Logger: testLogger(&logBuf),
		Stdout: &stdout,
		Now:    fixedClock(1700000000),
	}

	err = app.Run(context.Background(), opts, deps)
	assert.ErrorIs(t, err, app.ErrIncomplete)
}

// S6 – SIGINT during fetch: an already-cancelled context must surface
// ErrInterrupted without panicking, even mid-transfer.
func TestRunSurfacesInterruption(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
		w.(http.Flusher).Flush()
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	env := map[string]string{
		"dp_TARGET":                "do-fetch",
		"dp_DISTDIR":               "/work",
		"dp_DISTINFO_FILE":         "/work/distinfo",
		"dp__MASTER_SITES_DEFAULT": srv.URL + "/",
	}
	opts, err := app.LoadOptions(envFrom(env), []string{"-d", "foo"})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	distinfoContents := "TIMESTAMP = 1\nSHA256 (foo) = " + sha256Hex("hello world") + "\nSIZE (foo) = 11\n"
	require.NoError(t, afero.WriteFile(fs, "/work/distinfo", []byte(distinfoContents), 0o644))

	var logBuf, stdout bytes.Buffer
	deps := app.Deps{
		Fs:     fs,
		Logger: testLogger(&logBuf),
		Stdout: &stdout,
		Now:    fixedClock(1700000000),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = app.Run(ctx, opts, deps)
	require.Error(t, err)
	assert.True(t, errors.Is(err, app.ErrInterrupted) || strings.Contains(err.Error(), "context"))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
