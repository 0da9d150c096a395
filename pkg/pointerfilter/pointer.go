package pointerfilter

import (
	"fmt"
	"strconv"
	"strings"
)

const pointerVersion = "https://git-filter-server.invalid/spec/v1"

// Pointer is the small text blob a clean operation stores in the
// repository in place of large file content: the algorithm and digest
// of the real content plus its size, enough to fetch it back out of a
// Store on smudge.
type Pointer struct {
	Algorithm string
	OID       string
	Size      int64
}

// String renders p in the three-line pointer format clean writes to
// the working tree's staged content.
func (p Pointer) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version %s\n", pointerVersion)
	fmt.Fprintf(&b, "oid %s:%s\n", p.Algorithm, p.OID)
	fmt.Fprintf(&b, "size %d\n", p.Size)
	return b.String()
}

// ParsePointer parses the text a smudge request receives as input. It
// rejects anything that isn't a well-formed pointer so that ordinary
// file content accidentally routed through smudge fails loudly instead
// of being echoed back unchanged.
func ParsePointer(text string) (Pointer, error) {
	var p Pointer
	sawVersion, sawOID, sawSize := false, false, false

	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return Pointer{}, fmt.Errorf("pointerfilter: malformed line %q", line)
		}
		switch key {
		case "version":
			if value != pointerVersion {
				return Pointer{}, fmt.Errorf("pointerfilter: unsupported pointer version %q", value)
			}
			sawVersion = true
		case "oid":
			algo, oid, ok := strings.Cut(value, ":")
			if !ok {
				return Pointer{}, fmt.Errorf("pointerfilter: malformed oid %q", value)
			}
			p.Algorithm, p.OID = algo, oid
			sawOID = true
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Pointer{}, fmt.Errorf("pointerfilter: malformed size %q: %w", value, err)
			}
			p.Size = n
			sawSize = true
		default:
			// Unknown keys are allowed by the format; ignore them.
		}
	}

	if !sawVersion || !sawOID || !sawSize {
		return Pointer{}, fmt.Errorf("pointerfilter: incomplete pointer (version=%v oid=%v size=%v)", sawVersion, sawOID, sawSize)
	}
	return p, nil
}
