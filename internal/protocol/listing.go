// Package protocol holds the scripts sent to the board and the parsers for
// their replies.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// DirBit marks a directory in the mode bits reported by os.ilistdir.
	DirBit = 0x4000
	// TypeMask covers every file-type bit of a stat mode.
	TypeMask = 0xF000
)

// ScanScript walks the whole device filesystem pre-order and prints one
// "flags&size&path" record per entry. Size is -1 when the port does not
// report one.
const ScanScript = `import os
class ___FSScan(object):
    def fld(self, name):
        for r in os.ilistdir(name):
            print(r[1], r[3] if len(r) > 3 else -1, name + r[0], sep='&')
            if r[1] & 0x4000:
                self.fld(name + r[0] + "/")
___FSScan().fld("/")
del ___FSScan
try:
    import gc
    gc.collect()
except Exception:
    pass
`

// Record is one line of a listing.
type Record struct {
	Flags int
	Size  int64
	Path  string
}

// IsDir reports whether the record describes a directory. A record with no
// file-type bits at all is a directory marker, never a regular file.
func (r Record) IsDir() bool {
	return r.Flags&DirBit != 0 || r.Flags&TypeMask == 0
}

// ProtocolError reports a reply that does not have the expected shape.
type ProtocolError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("protocol error at line %d (%q): %s", e.Line, e.Text, e.Reason)
	}
	return "protocol error: " + e.Reason
}

// ParseRecord parses a single "flags&size&path" line. Paths may contain '&'.
func ParseRecord(line string) (Record, error) {
	parts := strings.SplitN(line, "&", 3)
	if len(parts) != 3 {
		return Record{}, &ProtocolError{Text: line, Reason: "expected flags&size&path"}
	}
	flags, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Record{}, &ProtocolError{Text: line, Reason: "flags is not an integer"}
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Record{}, &ProtocolError{Text: line, Reason: "size is not an integer"}
	}
	path := parts[2]
	if !strings.HasPrefix(path, "/") || strings.Trim(path, "/") == "" {
		return Record{}, &ProtocolError{Text: line, Reason: "path must be absolute and not the root"}
	}
	return Record{Flags: flags, Size: size, Path: path}, nil
}

// ParseListing parses the output of ScanScript. Blank lines are ignored; the
// first malformed line fails the whole listing.
func ParseListing(text string) ([]Record, error) {
	var records []Record
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			pe := err.(*ProtocolError)
			pe.Line = i + 1
			return nil, pe
		}
		records = append(records, rec)
	}
	return records, nil
}
