package distinfo

import (
	"encoding/hex"
	"fmt"
	"io"
)

// Serialize writes the manifest back out in the canonical distinfo
// format: a single TIMESTAMP line followed by one SHA256 and one SIZE
// line per entry, in insertion order.
//
// Every referenced distfile must have a known size and a non-empty
// digest by the time Serialize is called; callers in makesum mode are
// responsible for having filled those in.
func (m *Manifest) Serialize(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "TIMESTAMP = %d\n", m.timestamp); err != nil {
		return err
	}
	for _, name := range m.order {
		e := m.entries[name]
		if _, err := fmt.Fprintf(w, "SHA256 (%s) = %s\n", name, hex.EncodeToString(e.Digest)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "SIZE (%s) = %d\n", name, e.Size); err != nil {
			return err
		}
	}
	return nil
}
