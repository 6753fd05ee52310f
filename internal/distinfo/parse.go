package distinfo

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Line grammar recognized by Parse. Everything else (blank lines, and
// any further grammar not covered here) is tolerated and ignored.
//
//	TIMESTAMP = <unsigned seconds>
//	SHA256 (<filename>) = <lowercase hex>
//	SIZE (<filename>) = <decimal bytes>
const (
	prefixTimestamp = "TIMESTAMP"
	prefixSHA256    = "SHA256"
	prefixSize      = "SIZE"
)

// Parse reads a distinfo manifest. It never stops at the first bad line:
// every offending line is recorded and returned as a combined error so
// the caller can print all of them. If no TIMESTAMP line was found,
// Timestamp() is left at its zero value and the caller is expected to
// set the current time.
func Parse(r io.Reader) (*Manifest, error) {
	m := New()
	var errs *multierror.Error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := parseLine(m, line); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("line %d: %w", lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return m, errs.ErrorOrNil()
}

func parseLine(m *Manifest, line string) error {
	if rest, ok := strings.CutPrefix(line, prefixTimestamp); ok {
		return parseTimestamp(m, rest)
	}
	if rest, ok := strings.CutPrefix(line, prefixSHA256+" ("); ok {
		return parseKeyed(rest, func(name, value string) error {
			digest, err := hex.DecodeString(strings.ToLower(value))
			if err != nil {
				return fmt.Errorf("bad SHA256 hex for %s: %w", name, err)
			}
			m.AddEntry(name, sizeUnknown).Digest = digest
			return nil
		})
	}
	if rest, ok := strings.CutPrefix(line, prefixSize+" ("); ok {
		return parseKeyed(rest, func(name, value string) error {
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("bad SIZE for %s: %w", name, err)
			}
			m.AddEntry(name, sizeUnknown).Size = size
			return nil
		})
	}
	// Grammar not covered by this specification: tolerate silently.
	return nil
}

func parseTimestamp(m *Manifest, rest string) error {
	rest = strings.TrimSpace(rest)
	rest, ok := strings.CutPrefix(rest, "=")
	if !ok {
		return fmt.Errorf("malformed TIMESTAMP line")
	}
	t, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return fmt.Errorf("bad TIMESTAMP value: %w", err)
	}
	m.SetTimestamp(t)
	return nil
}

// parseKeyed parses the `(<name>) = <value>` tail shared by SHA256 and
// SIZE lines and invokes apply with the decoded name/value.
func parseKeyed(rest string, apply func(name, value string) error) error {
	close := strings.Index(rest, ")")
	if close < 0 {
		return fmt.Errorf("missing closing paren")
	}
	name := rest[:close]
	tail := strings.TrimSpace(rest[close+1:])
	tail, ok := strings.CutPrefix(tail, "=")
	if !ok {
		return fmt.Errorf("missing '=' for %s", name)
	}
	return apply(name, strings.TrimSpace(tail))
}
